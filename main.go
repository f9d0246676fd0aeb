// appserver - a TCP application server with periodic client reclamation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"appserver/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "appserver: %v\n", err)
		os.Exit(1)
	}
}
