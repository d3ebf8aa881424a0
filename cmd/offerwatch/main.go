package main

import "offer-stall-alerts/internal/cli"

func main() {
	cli.Execute()
}
