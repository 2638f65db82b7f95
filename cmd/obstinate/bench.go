package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/spf13/pflag"

	"github.com/meigma/obstinate"
)

type benchConfig struct {
	iterations int
	duration   time.Duration
	touch      bool
	cpuProfile string
	memProfile string
	traceFile  string
}

// sinkByte keeps page reads from being optimised away.
var sinkByte byte

type benchStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

// runBench maps one identifier repeatedly. After the first iteration every
// map is a cache hit, so the loop measures probe plus mapping overhead.
func runBench(ctx context.Context, c *obstinate.Client, args []string, stdout, stderr io.Writer) error {
	var cfg benchConfig
	ids, err := subcommand("bench", args, stderr, func(fs *pflag.FlagSet) {
		fs.IntVarP(&cfg.iterations, "iterations", "n", 0, "number of maps (overrides --duration)")
		fs.DurationVarP(&cfg.duration, "duration", "d", 5*time.Second, "how long to run")
		fs.BoolVar(&cfg.touch, "touch", true, "read one byte per page of each view")
		fs.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write a CPU profile to this file")
		fs.StringVar(&cfg.memProfile, "memprofile", "", "write a heap profile to this file")
		fs.StringVar(&cfg.traceFile, "trace", "", "write an execution trace to this file")
	})
	if err != nil {
		return err
	}
	if len(ids) != 1 {
		return fmt.Errorf("%w: bench takes exactly one identifier", errUsage)
	}
	id := ids[0]

	if cfg.cpuProfile != "" {
		f, err := os.Create(cfg.cpuProfile)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return err
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}
	if cfg.traceFile != "" {
		f, err := os.Create(cfg.traceFile)
		if err != nil {
			return err
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			return err
		}
		defer func() {
			trace.Stop()
			_ = f.Close()
		}()
	}

	stats, err := benchMap(ctx, c, id, cfg)
	if err != nil {
		return err
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			return err
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			_ = f.Close()
			return err
		}
		_ = f.Close()
	}

	fmt.Fprintf(stdout, "id=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		id,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
	return nil
}

func benchMap(ctx context.Context, c *obstinate.Client, id string, cfg benchConfig) (benchStats, error) {
	start := time.Now()
	var stats benchStats

	shouldContinue := func() bool {
		if ctx.Err() != nil {
			return false
		}
		if cfg.iterations > 0 {
			return stats.ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	page := os.Getpagesize()
	for shouldContinue() {
		v, err := c.Map(ctx, id)
		if err != nil {
			return benchStats{}, err
		}
		if v == nil {
			return benchStats{}, fmt.Errorf("%s: %w", id, errAbsent)
		}
		data := v.Bytes()
		if cfg.touch {
			for off := 0; off < len(data); off += page {
				sinkByte ^= data[off]
			}
		}
		stats.bytes += int64(len(data))
		stats.ops++
		if err := v.Close(); err != nil {
			return benchStats{}, err
		}
	}
	stats.elapsed = time.Since(start)
	return stats, nil
}
