package cmd

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/fsmount"
)

var filesCmd = &cobra.Command{
	Use:   "files [path]",
	Short: "List the files in the sandbox",
	Long: `Files walks the sandbox below path (default: the workdir) through the
file-system mount and prints one path per line. Entries matching the
watch.ignore patterns are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFiles,
}

var filesShowDirs bool

func init() {
	rootCmd.AddCommand(filesCmd)

	filesCmd.Flags().BoolVar(&filesShowDirs, "dirs", false, "also print directories")
}

func runFiles(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = strings.Trim(args[0], "/")
		if root == "" {
			root = "."
		}
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	b, err := s.backend(cmd.Context())
	if err != nil {
		return err
	}
	ignore, err := backend.NewIgnoreMatcher(s.cfg.Watch.Ignore)
	if err != nil {
		return err
	}

	mount := fsmount.New(b, fsmount.Options{Logger: s.logger})
	out := cmd.OutOrStdout()
	return fs.WalkDir(mount.FS(cmd.Context()), root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && ignore.Match(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if filesShowDirs && p != "." {
				fmt.Fprintln(out, p+"/")
			}
			return nil
		}
		fmt.Fprintln(out, p)
		return nil
	})
}
