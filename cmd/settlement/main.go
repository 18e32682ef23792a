// Package main starts the settlement maintenance command lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	platformcmd "github.com/openclearing/settlement/internal/platform/cmd"

	settlementcmd "github.com/openclearing/settlement/internal/cmd/settlement"
)

func main() {
	cfg, err := settlementcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SETTLEMENT] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceSettlement, func(ctx context.Context) error {
		return settlementcmd.Run(ctx, cfg, os.Stdout, os.Stderr)
	})
	if err != nil {
		log.Fatalf("settlement: %v", err)
	}
}
