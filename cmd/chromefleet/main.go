package main

import "chromefleet/internal/cli"

func main() {
	cli.Execute()
}
