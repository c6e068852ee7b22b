package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/psantana5/pfrun/internal/monitor"
	"github.com/psantana5/pfrun/pkg/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	monitorExitOnTerminal bool
	monitorNoLogs         bool
	monitorStopOnSignal   bool
	monitorDumpMetrics    bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <job-id>",
	Short: "Follow a job's status and logs",
	Long: `Poll a job's status, estimate the remaining time from recent runs and
stream its log output until it finishes or you press Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().BoolVar(&monitorExitOnTerminal, "exit-on-terminal", true, "exit once the job has finished")
	monitorCmd.Flags().BoolVar(&monitorNoLogs, "no-logs", false, "do not print the log stream")
	monitorCmd.Flags().BoolVar(&monitorStopOnSignal, "stop-on-interrupt", false, "ask the server to stop the job on Ctrl+C")
	monitorCmd.Flags().BoolVar(&monitorDumpMetrics, "dump-metrics", false, "print client metrics to stderr on exit")
}

type monitorOptions struct {
	exitOnTerminal bool
	showLogs       bool
	stopOnSignal   bool
}

func runMonitor(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	if monitorDumpMetrics {
		defer func() {
			if err := rt.metrics.WriteText(os.Stderr); err != nil {
				rt.logger.Warn("Failed to dump metrics", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	return followJob(rt, args[0], monitorOptions{
		exitOnTerminal: monitorExitOnTerminal,
		showLogs:       !monitorNoLogs,
		stopOnSignal:   monitorStopOnSignal,
	})
}

// followJob runs a monitor session until the job finishes (when asked to)
// or the process is interrupted. A failed job is reported as an error.
func followJob(rt *app, jobID string, opts monitorOptions) error {
	r := newRenderer(os.Stdout, IsJSONOutput(), opts.showLogs)

	sess, err := monitor.NewSession(rt.client, monitor.NewWebSocketSource(rt.client, rt.logger, rt.metrics), monitor.Config{
		JobID:        jobID,
		PollInterval: viper.GetDuration("poll_interval"),
		ETAHistory:   etaHistory(),
		OnUpdate:     r.Render,
		Logger:       rt.logger,
		Metrics:      rt.metrics,
	})
	if err != nil {
		return err
	}
	rt.shutdown.Register("monitor session", func(ctx context.Context) error {
		return sess.Close()
	})

	if !IsJSONOutput() {
		fmt.Printf("Following job %s (press Ctrl+C to detach)...\n\n", jobID)
	}
	rt.shutdown.Notify()
	if err := sess.Start(); err != nil {
		return err
	}

	var terminal <-chan struct{}
	if opts.exitOnTerminal {
		terminal = sess.Terminal()
	}

	select {
	case <-terminal:
		if opts.showLogs {
			drainLogs(rt, sess)
		}
	case <-rt.shutdown.Done():
		if opts.stopOnSignal {
			stopOnInterrupt(rt, sess)
		}
	}

	if err := sess.Close(); err != nil {
		rt.logger.Debug("Log stream close failed", map[string]interface{}{"error": err.Error()})
	}
	snap := sess.Snapshot()
	r.Render(snap)

	if snap.State == models.StateFailed {
		msg := snap.JobError
		if msg == "" {
			msg = "see the job log"
		}
		return fmt.Errorf("job %s failed: %s", jobID, msg)
	}
	return nil
}

// logDrainTimeout bounds the wait for the log tail once the job has ended
const logDrainTimeout = 5 * time.Second

// drainLogs waits for the server to finish the log stream, unless the user
// interrupts first
func drainLogs(rt *app, sess *monitor.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), logDrainTimeout)
	defer cancel()
	go func() {
		select {
		case <-rt.shutdown.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := sess.DrainLogs(ctx); err != nil {
		rt.logger.Debug("Log stream did not finish", map[string]interface{}{"error": err.Error()})
	}
}

func stopOnInterrupt(rt *app, sess *monitor.Session) {
	ctx, cancel := requestContext()
	defer cancel()
	// the renderer reports the outcome through the session snapshot
	if _, err := sess.Stop(ctx); errors.Is(err, monitor.ErrNotRunning) {
		rt.logger.Info("Job is not running; nothing to stop")
	}
}
