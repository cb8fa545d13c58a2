package main

import (
	"os"

	"github.com/carbonfact/lea/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
