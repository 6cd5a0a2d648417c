// Command userctl is an interactive terminal client for the userdesk API.
// The session token is kept in memory only and is gone once the process exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"userdesk/internal/client"
)

func main() {
	addr := flag.String("addr", "http://localhost:3004", "userdesk API base URL")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sh := newShell(client.New(*addr, nil), os.Stdin, os.Stdout)
	if err := sh.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "userctl: %v\n", err)
		os.Exit(1)
	}
}
