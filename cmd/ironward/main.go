package main

import "github.com/jmcleod/ironward/cmd/ironward/cmd"

func main() {
	cmd.Execute()
}
