// peercall-relay: development relay.
//
// Serves the relay protocol on /ws: users register a name, receive the
// roster, and exchange targeted envelopes. Meant for local runs, not for
// production.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/peercall/internal/relay"
	"github.com/1ureka/peercall/internal/util"
)

var version = "dev"

func main() {
	var (
		addr  string
		debug bool
	)

	cmd := &cobra.Command{
		Use:           "peercall-relay",
		Short:         "Development relay for peercall",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if debug {
				util.EnableDebug()
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	if err := cmd.Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr string) error {
	hub := relay.NewHub()
	srv := &http.Server{
		Addr:              addr,
		Handler:           hub.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	pterm.Info.Println(fmt.Sprintf("peercall relay v%s", version))
	util.LogSuccess("relay listening on ws://%s/ws", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	util.LogInfo("relay stopped with %d users online", len(hub.Users()))
	return nil
}
