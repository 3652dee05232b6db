package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/boltkit/internal/backend"
)

var execCmd = &cobra.Command{
	Use:   "exec -- <command> [args...]",
	Short: "Run a one-shot command in the sandbox",
	Long: `Exec runs a command through the configured backend's shell, exactly as a
shell action would, and prints its stdout and stderr. The exit status of the
command becomes the exit status of boltkit.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

var (
	execCwd     string
	execTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().StringVar(&execCwd, "cwd", "", "directory relative to the workdir")
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 0, "command timeout (default: dispatch.shell_timeout_seconds)")
}

func runExec(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	b, err := s.backend(cmd.Context())
	if err != nil {
		return err
	}

	timeout := execTimeout
	if timeout == 0 {
		timeout = s.cfg.Dispatch.ShellTimeout()
	}

	res, err := b.Exec(cmd.Context(), backend.ExecRequest{
		Command: strings.Join(args, " "),
		Cwd:     execCwd,
		Timeout: timeout,
	})
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
	fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
	if res.ExitCode != 0 {
		return &ExitError{Code: res.ExitCode}
	}
	return nil
}
