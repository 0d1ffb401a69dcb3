package main

import "github.com/hubenschmidt/go-visearch/cli"

func main() {
	cli.Execute()
}
