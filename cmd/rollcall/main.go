// Command rollcall runs a biometric attendance station or authority.
package main

import (
	"context"
	"os"

	"github.com/roach88/rollcall/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
