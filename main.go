package main

import "github.com/audiolibrelab/pipecast/cmd"

func main() {
	cmd.Execute()
}
