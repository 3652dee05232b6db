package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/dispatch"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/event"
	"github.com/Iron-Ham/boltkit/internal/fsmount"
	"github.com/Iron-Ham/boltkit/internal/process"
	"github.com/Iron-Ham/boltkit/internal/util"
)

var applyCmd = &cobra.Command{
	Use:   "apply [file|-]",
	Short: "Apply the actions in a model response",
	Long: `Apply reads a model response from a file or stdin and streams it through
the action parser in small chunks, as if it were arriving from the model.
File actions are written to the sandbox, shell actions are run to
completion and start actions launch long-lived processes.

A failing file or shell action stops the remaining actions of its artifact.
Failures are reported as alerts on stderr.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

var (
	applyChunkSize   int
	applyAttach      bool
	applyKeepRunning bool
	applyWatch       bool
)

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().IntVar(&applyChunkSize, "chunk-size", defaultChunkSize, "bytes fed to the parser at a time")
	applyCmd.Flags().BoolVar(&applyAttach, "attach", false, "copy the output of started processes to stdout")
	applyCmd.Flags().BoolVar(&applyKeepRunning, "keep-running", false, "keep started processes running until interrupted")
	applyCmd.Flags().BoolVar(&applyWatch, "watch", false, "report file changes in the sandbox while applying")
}

func runApply(cmd *cobra.Command, args []string) error {
	in, err := openInput(cmd, args)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	s, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := s.backend(ctx)
	if err != nil {
		return err
	}

	out := newPrinter(cmd.OutOrStdout())
	alerts := newPrinter(cmd.ErrOrStderr())

	if applyWatch {
		mount := fsmount.New(b, fsmount.Options{Bus: s.bus, Logger: s.logger})
		sub, err := mount.Watch(ctx, ".", backend.WatchOptions{Ignore: s.cfg.Watch.Ignore}, func(eventType, filename string) {
			out.println(out.style(mutedStyle, fmt.Sprintf("  %s %s", eventType, filename)))
		})
		if err != nil {
			return err
		}
		defer func() { _ = sub.Close() }()
	}

	procs := process.NewManager(b, process.Options{
		InteractiveMarker: s.cfg.Process.InteractiveMarker,
		Bus:               s.bus,
		Logger:            s.logger,
	})

	opts := dispatch.OptionsFromConfig(s.cfg)
	opts.Parser = s.parser()
	opts.Alerts = alerts
	opts.Bus = s.bus
	opts.Logger = s.logger
	if applyAttach {
		w := cmd.OutOrStdout()
		opts.OnProcess = func(h *process.Handle) {
			go func() { _, _ = io.Copy(w, h.Output()) }()
		}
	}
	d := dispatch.New(b, procs, opts)

	event.On(s.bus, event.TypeActionCompleted, func(ev event.ActionCompletedEvent) {
		switch ev.ActionType {
		case "file":
			out.success("wrote " + ev.FilePath)
		case "shell":
			out.success(fmt.Sprintf("ran %s (%s)", describeCommand(ev.Command), ev.Duration.Round(time.Millisecond)))
		case "start":
			out.success(fmt.Sprintf("started %s (process %s)", describeCommand(ev.Command), ev.ProcessID))
		}
	})
	event.On(s.bus, event.TypeProcessExited, func(ev event.ProcessExitedEvent) {
		out.println(out.style(mutedStyle, fmt.Sprintf("  process %s exited with %d", ev.ProcessID, ev.ExitCode)))
	})

	runErr := d.Run(ctx, uuid.NewString(), streamChunks(ctx, in, applyChunkSize, s.logger))
	out.summary(d.Artifacts())

	if applyKeepRunning && len(procs.List()) > 0 && ctx.Err() == nil {
		out.println(out.style(mutedStyle, fmt.Sprintf("%d process(es) running, press Ctrl-C to stop", len(procs.List()))))
		<-ctx.Done()
	}

	closeErr := d.Close(context.WithoutCancel(ctx))
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return errors.Join(runErr, closeErr)
	}
	if closeErr != nil {
		return closeErr
	}
	for _, a := range d.Artifacts() {
		if a.Halted {
			return &ExitError{Code: 1}
		}
	}
	return nil
}

// describeCommand shortens a command for one-line output.
func describeCommand(command string) string {
	return util.TruncateANSI(util.FirstLine(command), 60)
}
