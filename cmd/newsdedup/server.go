package newsdedup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/newsdedup/pkg/queue"
	"github.com/soundprediction/newsdedup/pkg/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API for submitting news and reading unique news.

Endpoints:
- POST /api/v1/news            submit a news item
- GET  /api/v1/news/unique     accepted news in insertion order
- GET  /api/v1/partitions      per-ticker partition sizes
- GET  /health, /live, /ready  health checks

With --consume the server also drains the Redis news queue.`,
	RunE: runServer,
}

var (
	serverHost    string
	serverPort    int
	serverMode    string
	serverConsume bool
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "release", "Server mode (debug, release, test)")
	serverCmd.Flags().BoolVar(&serverConsume, "consume", false, "Also consume the Redis news queue")
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cmd.Flags().Changed("host") {
		rt.cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		rt.cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") || rt.cfg.Server.Mode == "" {
		rt.cfg.Server.Mode = serverMode
	}
	if rt.cfg.Server.Port <= 0 || rt.cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", rt.cfg.Server.Port)
	}

	srv := server.New(rt.cfg, rt.engine, rt.logger)

	consumerErr := make(chan error, 1)
	consuming := false
	if serverConsume {
		client, err := queue.Connect(ctx, rt.cfg.Queue.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		srv.AddCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })

		consumer, err := queue.NewConsumer(client, rt.engine, rt.cfg.Queue, rt.logger)
		if err != nil {
			return err
		}
		consuming = true
		go func() { consumerErr <- consumer.Run(ctx) }()
	}

	srv.Setup()

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case err := <-consumerErr:
		consuming = false
		if err != nil {
			runErr = fmt.Errorf("queue consumer: %w", err)
		}
	case <-ctx.Done():
		rt.logger.Info("shutdown requested")
	}

	// The consumer must stop before the engine is closed.
	stop()
	if consuming {
		<-consumerErr
	}
	if runErr != nil {
		return runErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}
