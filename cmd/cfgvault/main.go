// Package main provides the cfgvault command-line tool for storing,
// promoting, branching and recovering industrial device configurations.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/assetforge/cfgvault/pkg/versioning"
)

var version = "dev"

// Exit codes by error kind. Anything unclassified exits 1.
var exitCodes = map[versioning.Kind]int{
	versioning.KindValidation:       2,
	versioning.KindNotFound:         3,
	versioning.KindPermissionDenied: 4,
	versioning.KindConflict:         5,
	versioning.KindIntegrity:        6,
	versioning.KindStorage:          7,
}

func main() {
	// Load leaves existing variables alone; .env.local wins over both.
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	c := newCLI(os.Stdout)
	err := newRootCmd(c).Execute()
	// PostRun is skipped when a command fails.
	_ = c.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if code, ok := exitCodes[versioning.KindOf(err)]; ok {
		return code
	}
	return 1
}
