package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ntufar/intellivault/internal/app"
	"github.com/ntufar/intellivault/internal/httputil"
	"github.com/ntufar/intellivault/internal/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, "embedder")
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	deps.Log.Info("embedder worker starting")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.StageEmbedChunk, deps.Orchestrator.HandleEmbedChunk)
	})
	g.Go(func() error {
		return httputil.ServeHealth(ctx, deps.Log, strconv.Itoa(deps.Config.Port))
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("embedder service stopped", "err", err)
	}
}
