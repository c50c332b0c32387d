// Command wastewise is the headless wastewise client: it signs in, keeps the
// credential, and streams live pickup events.
package main

import (
	"errors"
	"fmt"
	"os"

	"wastewise/cmd/internal/app"
)

func main() {
	if err := app.Run(os.Args[1:]); err != nil {
		// A bare ErrUsage means usage was already printed.
		if !errors.Is(err, app.ErrUsage) || errors.Unwrap(err) != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, app.ErrUsage):
		return 2
	case errors.Is(err, app.ErrNotLoggedIn):
		return 3
	default:
		return 1
	}
}
