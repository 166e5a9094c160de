package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/javi11/zipxtract/cmd/zipxtract/cmd"
	"github.com/javi11/zipxtract/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		if errors.KindOf(err) == errors.KindCancelled {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
