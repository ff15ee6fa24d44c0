package main

import (
	"context"
	"os"

	"github.com/yigit/hackhub/internal/cli"
	"github.com/yigit/hackhub/internal/pkg/logger"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
