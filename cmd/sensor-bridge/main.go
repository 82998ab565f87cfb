package main

import "github.com/oshokin/sensor-bridge/cmd/sensor-bridge/cmd"

func main() {
	cmd.Execute()
}
