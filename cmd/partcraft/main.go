// Command partcraft sequences and executes the pull, overlay, build,
// stage and prime steps of a parts.yaml project.
package main

import (
	"os"

	"partcraft/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
