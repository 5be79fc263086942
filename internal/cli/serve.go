package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fno-chain/internal/api"
	"fno-chain/internal/health"
)

func newServeCmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve option chains over HTTP",
		Long: `Run the HTTP API and keep the instrument master refreshed.

Routes:
  GET  /api/v1/stock/:ticker/chain
  GET  /api/v1/stock/:ticker/chain/coverage
  GET  /api/v1/instruments
  POST /api/v1/instruments/refresh
  GET  /api/v1/session
  GET  /healthz
  GET  /metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Refresher.EnsureLoaded(ctx); err != nil {
				return err
			}

			sc := app.Config.Server
			if addr != "" {
				sc.Addr = addr
			}
			srv := api.NewServer(api.Config{
				Addr:         sc.Addr,
				Mode:         sc.Mode,
				ReadTimeout:  sc.ReadTimeout,
				WriteTimeout: sc.WriteTimeout,
				Version:      Version,
			}, app.Service, app.Refresher, app.Sessions, app.Logger)
			if app.Store != nil {
				provider := app.Gateway.Name()
				srv.RegisterCheck("store", health.DatabaseCheck(func(ctx context.Context) error {
					_, err := app.Store.CountInstruments(ctx, provider)
					return err
				}))
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				return app.Refresher.Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Stop(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
