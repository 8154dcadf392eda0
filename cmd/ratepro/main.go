package main

import "ratepro/cmd/cli"

func main() {
	cli.Execute()
}
