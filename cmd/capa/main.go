package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/example/capa/internal/cli"
	"github.com/example/capa/internal/wire"
)

func main() {
	err := cli.RootCmd().Execute()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if closeErr := wire.Close(ctx); closeErr != nil {
		fmt.Fprintln(os.Stderr, closeErr)
	}
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
