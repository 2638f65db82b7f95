// Command obstinate reads local or remote blobs through the obstinate cache.
//
// Usage:
//
//	obstinate [global flags] <command> [flags] <identifier>...
//
// Commands:
//
//	cat    write the content of each identifier to stdout
//	path   print the local file backing each identifier
//	stat   describe each identifier (size, version, cache outcome)
//	bench  map one identifier repeatedly and report throughput
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/meigma/obstinate"
	"github.com/meigma/obstinate/config"
	"github.com/meigma/obstinate/location"
	"github.com/meigma/obstinate/store"
	storehttp "github.com/meigma/obstinate/store/http"
)

var (
	// errAbsent reports an identifier whose remote object does not exist.
	errAbsent = errors.New("object not found")

	errUsage = errors.New("usage")
)

type globals struct {
	configPath  string
	cacheDir    string
	verbose     int
	maxAttempts int
	timeout     time.Duration
	httpOrigin  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "obstinate: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, errAbsent), errors.Is(err, obstinate.ErrNotFound):
		return 3
	case errors.Is(err, errUsage):
		return 2
	default:
		return 1
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globals
	fs := pflag.NewFlagSet("obstinate", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.StringVarP(&g.configPath, "config", "c", "", "YAML file with aws/azure/gcp provider options")
	fs.StringVar(&g.cacheDir, "cache-dir", "", "cache root (default: per-user cache directory)")
	fs.CountVarP(&g.verbose, "verbose", "v", "log verbosity (-v info, -vv debug)")
	fs.IntVar(&g.maxAttempts, "max-attempts", 0, "reconciliation attempts per read (default 10)")
	fs.DurationVar(&g.timeout, "timeout", 0, "overall deadline, 0 for none")
	fs.StringVar(&g.httpOrigin, "http-origin", "", "serve remote identifiers from <origin>/<bucket>/<key> over plain HTTP")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: obstinate [global flags] <cat|path|stat|bench> [flags] <identifier>...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("%w: missing command", errUsage)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	logger := newLogger(stderr, g.verbose)
	client, err := newClient(g, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "cat":
		return runCat(ctx, client, rest, stdout, stderr)
	case "path":
		return runPath(ctx, client, rest, stdout, stderr)
	case "stat":
		return runStat(ctx, client, rest, stdout, stderr)
	case "bench":
		return runBench(ctx, client, rest, stdout, stderr)
	default:
		fs.Usage()
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func newLogger(w io.Writer, verbose int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbose >= 2:
		level = slog.LevelDebug
	case verbose == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newClient installs the configuration file as the process default and
// builds a client on top of it.
func newClient(g globals, logger *slog.Logger) (*obstinate.Client, error) {
	opts := []obstinate.Option{obstinate.WithLogger(logger)}
	if g.configPath != "" {
		cfg, err := config.Load(g.configPath)
		if err != nil {
			return nil, err
		}
		if !config.SetDefault(cfg) {
			logger.Warn("process configuration already set", slog.String("path", g.configPath))
		}
		opts = append(opts, obstinate.WithConfig(cfg))
		logger.Info("loaded configuration", slog.String("path", g.configPath))
	}
	if g.cacheDir != "" {
		opts = append(opts, obstinate.WithCacheDir(g.cacheDir))
	}
	if g.maxAttempts > 0 {
		opts = append(opts, obstinate.WithMaxAttempts(g.maxAttempts))
	}
	if g.httpOrigin != "" {
		opts = append(opts, obstinate.WithStoreFactory(originFactory(g.httpOrigin)))
	}
	return obstinate.NewClient(opts...)
}

// originFactory serves every bucket from a directory of the same name on an
// HTTP origin, for example a static mirror.
func originFactory(origin string) obstinate.StoreFactory {
	origin = strings.TrimSuffix(origin, "/")
	return func(_ context.Context, loc location.Location, _ config.Options) (store.Store, error) {
		return storehttp.New(origin + "/" + url.PathEscape(loc.Bucket) + "/")
	}
}

// subcommand parses flags common to every command and returns the
// identifiers.
func subcommand(name string, args []string, stderr io.Writer, define func(*pflag.FlagSet)) ([]string, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	if define != nil {
		define(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: obstinate %s [flags] <identifier>...\n", name)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return nil, fmt.Errorf("%w: %s needs at least one identifier", errUsage, name)
	}
	return fs.Args(), nil
}
