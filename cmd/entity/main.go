package main

import (
	"os"

	"github.com/hmennen90/open-entity-sub000/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
