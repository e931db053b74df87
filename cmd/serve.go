package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwbudde/multifit/internal/server"
	"github.com/cwbudde/multifit/internal/store"
	"github.com/spf13/cobra"
)

var (
	serveAddr            string
	serveShutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run fits as background jobs over HTTP",
	Long: `Starts a JSON API that runs fits in the background and stores them in
--data-dir:

  POST   /api/v1/fits                  submit a fit
  GET    /api/v1/fits                  list jobs
  GET    /api/v1/fits/<id>             job status
  DELETE /api/v1/fits/<id>             cancel a job
  GET    /api/v1/fits/<id>/stream      progress as server-sent events
  GET    /api/v1/fits/<id>/record      stored result
  GET    /api/v1/fits/<id>/trace       iteration trace
  GET    /api/v1/fits/<id>/frame-N.png preview of exposure N
  GET    /api/v1/records               all stored fits`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 10*time.Second, "Grace period for open connections on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	fitStore, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	srv := server.NewServer(serveAddr, fitStore)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
	}

	slog.Info("Interrupt received, shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
