package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/handler"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only view of the project over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			prj, err := openProject(projectDir(cmd))
			if err != nil {
				return err
			}
			defer func() {
				if cerr := prj.Close(); err == nil {
					err = cerr
				}
			}()

			srv := &http.Server{
				Addr: addr,
				Handler: handler.NewServer(&handler.ProjectContext{
					Store:   prj.store,
					Config:  prj.cfg,
					Metrics: prj.metrics,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx := cmd.Context()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info("Server starting", zap.String("addr", addr), zap.String("project", prj.cfg.ProjectDir))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	return cmd
}
