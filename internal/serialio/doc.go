// Package serialio owns the physical serial link to the sensor array: an
// infinite reconnect loop with fixed backoff, the bring-up sequence that
// switches the device into detection streaming, line-oriented reading with
// lossy UTF-8 decoding, and the write path used by command sequences.
package serialio
