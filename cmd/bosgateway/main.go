package main

import "bosgateway/internal/cli"

func main() {
	cli.Execute()
}
