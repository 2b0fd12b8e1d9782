package main

import "github.com/brolab-dev/x402-mcp/internal/cli"

func main() {
	cli.Execute()
}
