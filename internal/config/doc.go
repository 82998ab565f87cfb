// Package config defines the bridge settings and provides helpers to load,
// validate and save them in YAML format.
//
// The Config type holds the serial device parameters, the HTTP bind address
// and the protocol timing constants.
package config
