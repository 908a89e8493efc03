package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/station"
	"github.com/roach88/rollcall/internal/store"
)

// env is the per-invocation wiring shared by the store-backed commands.
type env struct {
	cfg     config.Config
	store   *store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	out     *OutputFormatter
}

// newLogger installs the process logger: text to stderr, Debug when verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadConfig reads the config file and applies the --db override.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Storage.Path = opts.Database
	}
	return cfg, nil
}

// openEnv loads configuration and opens the store it names.
func openEnv(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts, cmd.ErrOrStderr())

	loc, err := cfg.Location()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid timezone", err)
	}

	logger.Debug("opening database", "path", cfg.Storage.Path)
	s, err := store.Open(cfg.Storage.Path, store.Options{
		Dimension:   cfg.Embedding.Dimension,
		BusyTimeout: cfg.Storage.BusyTimeout,
		MaxRetries:  cfg.Storage.MaxRetries,
		Location:    loc,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	return &env{
		cfg:     cfg,
		store:   s,
		metrics: metrics.New(),
		logger:  logger,
		out:     newFormatter(opts, cmd),
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing database", "error", err)
	}
}

func (e *env) station() *station.Station {
	return station.New(e.store, station.Config{
		Tolerance: e.cfg.Match.Tolerance,
		Workers:   e.cfg.Match.Workers,
		ShardSize: e.cfg.Match.ShardSize,
	}, e.metrics, e.logger)
}

// parseVector parses "0.1,0.2,0.3" (brackets and spaces allowed).
func parseVector(s string) (model.Embedding, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, fmt.Errorf("%w: empty vector", model.ErrInvalidEmbedding)
	}
	parts := strings.Split(s, ",")
	out := make(model.Embedding, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: component %d: %v", model.ErrInvalidEmbedding, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// readJSON decodes the JSON document at path into v. "-" reads stdin.
func readJSON(cmd *cobra.Command, path string, v any) error {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to parse %s", path), err)
	}
	return nil
}

// vectorInput resolves an embedding from --embedding or --embedding-file.
func vectorInput(cmd *cobra.Command, inline, file string) (model.Embedding, error) {
	switch {
	case inline != "" && file != "":
		return nil, NewExitError(ExitCommandError, "use only one of --embedding and --embedding-file")
	case inline != "":
		v, err := parseVector(inline)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --embedding", err)
		}
		return v, nil
	case file != "":
		var v model.Embedding
		if err := readJSON(cmd, file, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, NewExitError(ExitCommandError, "an embedding is required (--embedding or --embedding-file)")
	}
}

// parseAt parses --at in the store's time zone. Empty means now.
func parseAt(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := model.ParseTimestamp(s, loc)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "invalid --at", err)
	}
	return t, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid identity id %q", s))
	}
	return id, nil
}
