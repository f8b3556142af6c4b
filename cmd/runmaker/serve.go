package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccs-labs/runmaker/internal/coordinator"
	"github.com/ccs-labs/runmaker/internal/jobfile"
	"github.com/ccs-labs/runmaker/internal/metrics"
	"github.com/ccs-labs/runmaker/internal/protocol"
	"github.com/ccs-labs/runmaker/internal/worker"
)

var (
	flagPort        int
	flagTokenFile   string
	flagMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve <jobfile>",
	Short: "hand out jobs to workers over TCP",
	Long: "Serve reads the job file once and hands out its jobs to workers " +
		"connecting over TCP. Workers authenticate with a random token printed " +
		"on startup; pass it to them via 'runmaker work --token'.",
	Args: cobra.ExactArgs(1),
	RunE: doServe,
}

func init() {
	serveCmd.Flags().IntVarP(&flagPort, "port", "p", 0,
		"TCP port to listen on (default from config)")
	serveCmd.Flags().BoolVarP(&flagRetry, "retry", "r", false, "retry failed jobs")
	serveCmd.Flags().StringVarP(&flagTokenFile, "tokenfile", "t", "",
		"write the token to FILENAME, empty to disable (default from config)")
	serveCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "",
		"expose Prometheus metrics on this address, e.g. :9099")
}

func doServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := jobfile.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	token, err := protocol.NewToken()
	if err != nil {
		return err
	}

	tokenFile := flagTokenFile
	if !cmd.Flags().Changed("tokenfile") {
		tokenFile = cfg.TokenFile
	}
	if tokenFile != "" {
		if err := protocol.WriteTokenFile(tokenFile, token); err != nil {
			return err
		}
		fmt.Printf("Token for runmaker work: %s (written to %s)\n", token, tokenFile)
	} else {
		fmt.Printf("Token for runmaker work: %s\n", token)
	}

	port := flagPort
	if port == 0 {
		port = cfg.Port
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if flagMetricsAddr != "" {
		collector = metrics.NewCollector()
		go func() {
			if err := metrics.Serve(ctx, flagMetricsAddr, collector); err != nil {
				slog.Error("metrics listener failed", "error", err)
			}
		}()
	}

	coord, err := coordinator.New(f, ln, coordinator.Options{
		Token:   token,
		Retry:   flagRetry,
		Metrics: collector,
	})
	if err != nil {
		ln.Close()
		return err
	}

	slog.Debug("coordinator listening", "addr", coord.Addr().String())
	serveErr := coord.Serve(ctx)

	if tokenFile != "" {
		if err := protocol.RemoveTokenFile(tokenFile); err != nil {
			slog.Warn("could not remove token file", "path", tokenFile, "error", err)
		}
	}
	return serveErr
}

func clientRetry() worker.RetryPolicy {
	return worker.RetryPolicy{
		Attempts: cfg.RetryAttempts,
		Backoff:  time.Duration(cfg.BackoffSeconds) * time.Second,
	}
}
