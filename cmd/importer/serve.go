package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"merchant-sync/internal/httpserver"
	"merchant-sync/internal/log"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the outbox relay and the HTTP admin API",
		Long: `Run the outbox relay in the background and serve:

  GET  /health           liveness
  GET  /ready            database reachability
  POST /imports          {"path": "..."} imports a batch file on this host
  POST /imports/upload   imports the request body as a batch file
  GET  /outbox           number of pending events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.HTTPAddr
			}

			go a.processor.Start(ctx)

			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Addr:              addr,
				Handler:           httpserver.NewRouter(a.importService(), a.repo, a.cfg.ImportDir, a.logger),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Server starting", log.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	return cmd
}
