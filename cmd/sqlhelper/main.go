package main

import (
	"os"

	"github.com/sqlhelper/sqlhelper/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
