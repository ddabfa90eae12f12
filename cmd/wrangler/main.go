package main

import (
	"os"

	"datawrangler/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
