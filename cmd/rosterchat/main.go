// Rosterchat
//
// A terminal chat client with a live roster, plus the relay it talks to.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "rosterchat",
	Short: "Rosterchat - terminal chat with a live roster",
	Long: `Rosterchat is a terminal chat client with a live user roster.

  rosterchat client --user alice --server ws://host:8080/join   Join a relay
  rosterchat server --addr :8080                                Run a relay
  rosterchat local --user alice                                 Relay and client in one process`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "rosterchat: %v\n", err)
		os.Exit(1)
	}
}
