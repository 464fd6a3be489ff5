package main

import "github.com/eventbox/eventbox/cmd"

func main() {
	cmd.Execute()
}
