// Command clearsession deletes the bot's persisted gateway session so the
// next start performs a fresh login.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ctf-assistant/internal/config"
	"ctf-assistant/internal/modules/audit"
	"ctf-assistant/internal/storage"
)

type sessionStore interface {
	storage.SessionRepository
	storage.AuditRepository
}

type cmdOptions struct {
	Config   string        `long:"config" short:"c" description:"Path to the YAML config file"`
	MongoURI string        `long:"mongodb-uri" description:"MongoDB connection string (overrides MONGODB_URI)"`
	Timeout  time.Duration `long:"timeout" default:"30s" description:"Give up after this long"`
}

func main() {
	var opts cmdOptions
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := config.LoadFrom(opts.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	uri := cfg.MongoURI
	if opts.MongoURI != "" {
		uri = opts.MongoURI
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	if err := connectAndClear(ctx, uri, logger, os.Stdout); err != nil {
		logger.Error("clearing session state failed", zap.Error(err))
		_ = logger.Sync()
		cancel()
		os.Exit(1)
	}
}

type closableStore interface {
	sessionStore
	Close(ctx context.Context) error
}

func connectAndClear(ctx context.Context, uri string, logger *zap.Logger, out io.Writer) error {
	store, err := storage.New(ctx, uri)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	return clearAndClose(ctx, store, logger, out)
}

// clearAndClose runs the clear and then closes the store. A close failure
// fails the command too, since pending writes may not have landed.
func clearAndClose(ctx context.Context, store closableStore, logger *zap.Logger, out io.Writer) (err error) {
	defer func() {
		closeErr := store.Close(context.Background())
		if closeErr == nil {
			return
		}
		if err != nil {
			logger.Warn("storage close failed", zap.Error(closeErr))
			return
		}
		err = errors.Wrap(closeErr, "close storage")
	}()
	return run(ctx, store, logger, out)
}

// run clears the session document once. A missing document is not an error.
func run(ctx context.Context, store sessionStore, logger *zap.Logger, out io.Writer) error {
	removed, err := store.ClearSessionState(ctx)
	if err != nil {
		return errors.Wrap(err, "clear session state")
	}
	if !removed {
		_, err := fmt.Fprintln(out, "no session found")
		return err
	}
	audit.NewLogger(store, logger).Log(ctx, audit.LevelInfo, "", "", audit.EventSessionCleared, "session_state removed by maintenance command")
	_, err = fmt.Fprintln(out, "session state cleared")
	return err
}
