// Package broadcast implements the single-producer, multi-consumer relay
// between the serial ingestion loop and the observer-facing side.
//
// The ingestion side enqueues without ever blocking; an independent
// delivery loop fans each message out to every registered observer in
// strict FIFO order, pruning observers whose Send fails.
package broadcast
