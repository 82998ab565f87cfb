// Package parser turns raw device lines into typed sensor events.
//
// The device emits a line-oriented text protocol where informational lines
// carry a `[<timestamp>] I ` prefix followed by one of four CMD grammars.
// The parser is stateless and defensive: anything it does not recognize is
// discarded silently.
package parser
