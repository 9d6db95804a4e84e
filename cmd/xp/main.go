// xp inspects experiments recorded under a storage root.
package main

import (
	"os"

	"github.com/thalesfsp/xp/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
