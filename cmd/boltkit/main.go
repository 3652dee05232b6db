// Command boltkit applies the actions streamed in a model response to a
// local or remote sandbox.
package main

import (
	"os"

	"github.com/Iron-Ham/boltkit/internal/cmd"
	"github.com/Iron-Ham/boltkit/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		var exit *cmd.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		os.Exit(1)
	}
}
