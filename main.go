package main

import "github.com/audiolibrelab/spotcapture/cmd"

func main() {
	cmd.Execute()
}
