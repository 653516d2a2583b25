package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	armcp "github.com/deixis/actionrunner/internal/mcp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		instructions bool
		httpAddr     string
		metricsAddr  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server on stdio, or on HTTP when --http is given.

When a metrics address is set, prometheus metrics are served on
<addr>/metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if instructions {
				fmt.Fprint(cmd.OutOrStdout(), armcp.Instructions)
				return nil
			}
			a, err := newApp(g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr == "" {
				metricsAddr = a.loaded.Config.Metrics.Addr
			}
			return serve(cmd.Context(), a, httpAddr, metricsAddr)
		},
	}
	cmd.Flags().BoolVar(&instructions, "instructions", false, "print model instructions and exit")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve MCP over HTTP on address (e.g. :9090)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on address (e.g. :9091)")
	return cmd
}

func serve(ctx context.Context, a *app, httpAddr, metricsAddr string) error {
	deps := armcp.Deps{
		Engine:  a.engine,
		Packs:   a.packs,
		Reports: a.reports,
		Logger:  a.logger,
	}
	if a.outputs != nil {
		deps.Outputs = a.outputs
	}
	server := armcp.NewServer(deps)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		eg.Go(func() error {
			return listen(ctx, a.logger, "metrics", &http.Server{Addr: metricsAddr, Handler: mux})
		})
	}

	eg.Go(func() error {
		// The MCP transport ending stops the metrics listener too.
		defer cancel()
		if httpAddr != "" {
			handler := mcpsdk.NewStreamableHTTPHandler(
				func(_ *http.Request) *mcpsdk.Server { return server },
				nil,
			)
			return listen(ctx, a.logger, "mcp", &http.Server{Addr: httpAddr, Handler: handler})
		}
		return server.Run(ctx, &mcpsdk.StdioTransport{})
	})

	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// listen runs srv until ctx is done.
func listen(ctx context.Context, logger *zap.Logger, name string, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", zap.String("server", name), zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
