package main

import (
	"os"

	"github.com/CrMo2001/intelli-vis/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
