package main

import "github.com/brensch/docingest/cmd"

func main() {
	cmd.Execute()
}
