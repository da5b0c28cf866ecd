package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/blipkit/blip/internal/blobstore"
	"github.com/blipkit/blip/pkg/blip"
	"github.com/blipkit/blip/pkg/metrics"
	"github.com/blipkit/blip/pkg/tracing"
	"github.com/blipkit/blip/pkg/transport"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// serveCmd dials a BLIP peer as a client (WebSocket server-side acceptance
// is out of scope here, the same way it's out of scope for wsframe's
// client-only framing), registers the attachment handlers on the resulting
// connection, and runs a small HTTP debug server alongside it exposing
// that connection's metrics.
func serveCmd() *cobra.Command {
	var (
		debugAddr string
		blobsDir  string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve <url>",
		Short: "Connect to a BLIP peer and answer GetAttachment/PutAttachment requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			store, err := blobstore.NewDiskStore(blobsDir, 0)
			if err != nil {
				return fmt.Errorf("blob store: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			conn, _, err := transport.Dial(ctx, args[0], transport.DialOptions{Logger: logger})
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}

			collector := metrics.New()
			tracer := tracing.New()
			collector.ConnectionOpened()

			connection := blip.NewConnection(conn,
				blip.WithLogger(logger),
				blip.WithMetricsHook(collector.Hook()),
				blip.WithTracer(tracer),
				blip.WithOnClose(func(blip.CloseInfo) { collector.ConnectionClosed() }),
			)
			blobstore.RegisterHandlers(connection, store)

			router := chi.NewRouter()
			router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			router.Handle("/metrics", promhttp.Handler())

			debugSrv := &http.Server{
				Addr:              debugAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				logger.Info("blipctl debug server listening", "addr", debugAddr)
				if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("debug server exited", "error", err)
				}
			}()

			<-connection.Done()
			debugSrv.Close()
			return nil
		},
	}

	cmd.Flags().StringVar(&debugAddr, "debug-addr", ":4985", "address the /metrics and /healthz debug server listens on")
	cmd.Flags().StringVar(&blobsDir, "blobs-dir", "./blobs", "directory to store attachments in")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time to wait for the handshake")

	return cmd
}
