package main

import "github.com/inkdrift/inkdrift/cmd"

func main() {
	cmd.Execute()
}
