package main

import "github.com/prodj/link-core/cmd"

func main() {
	cmd.Execute()
}
