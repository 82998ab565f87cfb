// Package bridge contains the sensor-bridge business logic: the event
// router that folds parsed device events into the shared state, the
// command dispatcher that turns observer intents into timed serial
// sequences, and the process wiring that runs everything.
package bridge
