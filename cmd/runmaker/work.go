package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ccs-labs/runmaker/internal/log"
	"github.com/ccs-labs/runmaker/internal/pool"
	"github.com/ccs-labs/runmaker/internal/protocol"
	"github.com/ccs-labs/runmaker/internal/worker"
)

var flagToken string

var workCmd = &cobra.Command{
	Use:   "work <host>",
	Short: "execute jobs handed out by a coordinator",
	Long: "Work connects to a 'runmaker serve' coordinator on <host> and executes " +
		"the jobs it hands out until the coordinator reports none are left. " +
		"--token takes the token literally, or the path of the coordinator's " +
		"token file if it ends in \".token\".",
	Args: cobra.ExactArgs(1),
	RunE: doWork,
}

var netWorkerCmd = &cobra.Command{
	Use:    "_work <host>",
	Short:  "internal command",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE:   doNetWorker,
}

func init() {
	for _, c := range []*cobra.Command{workCmd, netWorkerCmd} {
		c.Flags().IntVarP(&flagPort, "port", "p", 0,
			"coordinator TCP port (default from config)")
		c.Flags().StringVarP(&flagToken, "token", "t", "",
			"access token, or path of a token file if it ends in .token (default from config)")
		c.Flags().StringVarP(&flagLogfile, "logfile", "l", "", "log output to FILENAME")
		c.Flags().IntVarP(&flagLoglines, "loglines", "n", 0,
			"if logging, log the last NUMBER lines of output (default from config)")
	}
	workCmd.Flags().IntVarP(&flagJobs, "jobs", "j", 1,
		"start NUMBER jobs in parallel, 0 meaning autodetect")
	netWorkerCmd.Flags().StringVar(&flagWorkerID, "worker-id", "", "")
	_ = netWorkerCmd.Flags().MarkHidden("worker-id")
}

// doWork resolves the token once and spawns the network worker pool. The
// children receive the literal token so they never race each other on a
// token file that the coordinator may remove mid run.
func doWork(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagLogfile != "" {
		fi, err := os.Stat(flagLogfile)
		if err != nil || !fi.Mode().IsRegular() {
			return fmt.Errorf("log file %s must be created before starting workers", flagLogfile)
		}
	}

	tokenArg := flagToken
	if tokenArg == "" {
		tokenArg = cfg.TokenFile
	}
	token, err := protocol.LoadToken(tokenArg)
	if err != nil {
		return err
	}

	passArgs := []string{args[0], "--token", token}
	if flagPort != 0 {
		passArgs = append(passArgs, "--port", strconv.Itoa(flagPort))
	}
	if flagLogfile != "" {
		passArgs = append(passArgs, "--logfile", flagLogfile)
	}
	if flagLoglines > 0 {
		passArgs = append(passArgs, "--loglines", strconv.Itoa(flagLoglines))
	}
	if flagConfigPath != "" {
		passArgs = append(passArgs, "--config", flagConfigPath)
	}
	if flagVerbose {
		passArgs = append(passArgs, "--verbose")
	}

	return pool.Run(ctx, pool.Options{
		Workers: flagJobs,
		Command: "_work",
		Args:    passArgs,
	})
}

func doNetWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx,
		slog.String("worker_id", flagWorkerID),
		slog.Int("pid", os.Getpid()),
	)

	token, err := protocol.LoadToken(flagToken)
	if err != nil {
		return err
	}
	port := flagPort
	if port == 0 {
		port = cfg.Port
	}

	c := &worker.Client{
		Addr:  net.JoinHostPort(args[0], strconv.Itoa(port)),
		Token: token,
		Retry: clientRetry(),
	}
	return worker.RunNetwork(ctx, c, execOptions())
}
