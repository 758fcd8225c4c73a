package main

import "ticker-alerts/internal/cli"

func main() {
	cli.Execute()
}
