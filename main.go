package main

import "github.com/mindloom/mindloom/cmd"

func main() {
	cmd.Execute()
}
