package main

import (
	"fmt"
	"os"

	"github.com/cuongbtq/fetch-service/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.BuildCLI(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
