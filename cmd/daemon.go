package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/hostup/hostup/cmd/common"
	"github.com/hostup/hostup/pkg/logger"
)

func daemon(ctx *cli.Context) error {
	l := logger.NewStandardLogger(log.Default())

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initDaemonComponents(runCtx, l)
	if err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "init", err)
		return nil
	}
	defer components.Close()

	// workers for hosts that were enabled before the last shutdown
	components.Manager.StartEnabled()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	if err := components.Server.Start(runCtx); err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "serve", err)
	}
	return nil
}
