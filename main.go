package main

import "restbench/cmd"

func main() {
	cmd.Execute()
}
