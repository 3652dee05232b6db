package cmd

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/config"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/event"
	"github.com/Iron-Ham/boltkit/internal/logging"
	"github.com/Iron-Ham/boltkit/internal/parser"
	"github.com/Iron-Ham/boltkit/internal/sandbox"
)

// session bundles what every sandbox command needs.
type session struct {
	cfg    *config.Config
	logger *logging.Logger
	bus    *event.Bus
	holder *sandbox.Holder
}

func newSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	bus := event.NewBus(logger)
	bus.SubscribeAll(func(e event.Event) {
		logger.Debug("event", "type", e.EventType())
	})
	return &session{
		cfg:    cfg,
		logger: logger,
		bus:    bus,
		holder: sandbox.NewHolder(sandbox.FromConfig(cfg, logger), bus, logger),
	}, nil
}

// backend boots the configured backend.
func (s *session) backend(ctx context.Context) (backend.Backend, error) {
	b, err := s.holder.Init(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start %s backend", s.cfg.Backend.Kind)
	}
	return b, nil
}

func (s *session) parser() *parser.Parser {
	return newParser(s.cfg, s.logger)
}

func (s *session) Close() error {
	err := s.holder.Close()
	return errors.Join(err, s.logger.Close())
}

func newParser(cfg *config.Config, logger *logging.Logger) *parser.Parser {
	return parser.New(parser.Options{
		ArtifactTag: cfg.Parser.ArtifactTag,
		ActionTag:   cfg.Parser.ActionTag,
		Logger:      logger,
	})
}

// openInput opens the file named by args, or stdin for none or "-".
func openInput(cmd *cobra.Command, args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, errors.Wrap(err, "failed to open input")
	}
	return f, nil
}

// streamChunks reads r in chunks of at most size bytes and sends them on
// the returned channel, closing it at EOF, on a read error or when ctx is
// done. The chunk boundaries imitate a token stream.
func streamChunks(ctx context.Context, r io.Reader, size int, logger *logging.Logger) <-chan string {
	if size <= 0 {
		size = defaultChunkSize
	}
	ch := make(chan string)
	go func() {
		defer close(ch)
		br := bufio.NewReader(r)
		buf := make([]byte, size)
		for {
			n, err := br.Read(buf)
			if n > 0 {
				select {
				case ch <- string(buf[:n]):
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				logger.Error("failed to read input", "error", err)
				return
			}
		}
	}()
	return ch
}

const defaultChunkSize = 64
