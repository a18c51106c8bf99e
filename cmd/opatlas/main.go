package main

import "github.com/opatlas/opatlas/cmd/opatlas/cmd"

func main() {
	cmd.Execute()
}
