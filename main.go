// autologin - a small HTTP proxy that logs in to an IPTV portal and
// serves the live stream URL through page templates.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"autologin/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "autologin: %v\n", err)
		os.Exit(1)
	}
}
