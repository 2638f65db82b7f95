package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/meigma/obstinate"
)

func runCat(ctx context.Context, c *obstinate.Client, args []string, stdout, stderr io.Writer) error {
	ids, err := subcommand("cat", args, stderr, nil)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := catOne(ctx, c, id, stdout); err != nil {
			return err
		}
	}
	return nil
}

func catOne(ctx context.Context, c *obstinate.Client, id string, stdout io.Writer) error {
	v, err := c.Map(ctx, id)
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("%s: %w", id, errAbsent)
	}
	defer v.Close()

	_, err = stdout.Write(v.Bytes())
	return err
}

func runPath(ctx context.Context, c *obstinate.Client, args []string, stdout, stderr io.Writer) error {
	ids, err := subcommand("path", args, stderr, nil)
	if err != nil {
		return err
	}
	for _, id := range ids {
		path, err := c.Path(ctx, id)
		if err != nil {
			return err
		}
		if path == "" {
			return fmt.Errorf("%s: %w", id, errAbsent)
		}
		fmt.Fprintln(stdout, path)
	}
	return nil
}

// statRecord is the stat output for one identifier.
type statRecord struct {
	ID       string    `yaml:"id"`
	Scheme   string    `yaml:"scheme"`
	Path     string    `yaml:"path"`
	Size     int64     `yaml:"size"`
	ModTime  time.Time `yaml:"mod_time"`
	ETag     string    `yaml:"etag,omitempty"`
	Outcome  string    `yaml:"outcome,omitempty"`
	Attempts int       `yaml:"attempts,omitempty"`
}

func runStat(ctx context.Context, c *obstinate.Client, args []string, stdout, stderr io.Writer) error {
	var (
		format string
		jobs   int
	)
	ids, err := subcommand("stat", args, stderr, func(fs *pflag.FlagSet) {
		fs.StringVarP(&format, "output", "o", "table", "output format: table or yaml")
		fs.IntVarP(&jobs, "jobs", "j", 4, "identifiers resolved concurrently")
	})
	if err != nil {
		return err
	}
	if format != "table" && format != "yaml" {
		return fmt.Errorf("%w: unknown output format %q", errUsage, format)
	}

	records := make([]statRecord, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, id := range ids {
		g.Go(func() error {
			info, err := c.Stat(gctx, id)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			rec := statRecord{
				ID:       id,
				Scheme:   info.Location.Scheme.String(),
				Path:     info.Path,
				Size:     info.Size,
				ModTime:  info.ModTime.UTC(),
				ETag:     info.ETag,
				Attempts: info.Attempts,
			}
			if info.Outcome != 0 {
				rec.Outcome = info.Outcome.String()
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if format == "yaml" {
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSIZE\tETAG\tOUTCOME\tPATH")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, strconv.FormatInt(r.Size, 10), dash(r.ETag), dash(r.Outcome), r.Path)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
