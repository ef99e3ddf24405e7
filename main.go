package main

import "github.com/samogod/fitloop/cmd"

func main() {
	cmd.Execute()
}
