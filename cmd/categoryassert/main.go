package main

import (
	"os"

	"github.com/openkraft/categoryassert/internal/adapters/inbound/cli"
)

func main() {
	os.Exit(cli.Execute())
}
