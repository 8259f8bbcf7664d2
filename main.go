package main

import "github.com/geodiff-tools/registry-replay/cmd"

func main() {
	cmd.Execute()
}
