package main

import "github.com/dexhelper/cmd/dexhelper/cmd"

func main() {
	cmd.Execute()
}
