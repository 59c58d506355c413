// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command qbench drives a fixed configuration matrix across the bounded
// queue engines in code.hybscloud.com/spscq and emits a CSV of throughput
// measurements. It is an external collaborator: it only ever calls
// Sink/Source methods, the same surface any other caller of the core
// packages would use.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"code.hybscloud.com/spscq/boundedqueue"
	"code.hybscloud.com/spscq/spsc"
	"code.hybscloud.com/spscq/spscmmap"
)

// capacities and configs form the fixed matrix spec.md §6 calls for:
// capacities 64 and 4096, each run at a couple of iteration counts with
// both single-item and bulk operations.
var capacities = []int{64, 4096}

type config struct {
	iterations int
	batchSize  int // 1 means single-item operations
}

var configs = []config{
	{iterations: 100000, batchSize: 1},
	{iterations: 10000, batchSize: 32},
}

type result struct {
	queueType     string
	operationType string
	capacity      int
	iterations    int
	batchSize     int
	elapsedUs     int64
	opsPerSec     float64
}

func main() {
	var (
		outPath  = flag.String("out", "", "CSV output path (default: stdout)")
		engine   = flag.String("engine", "all", "engine to run: spsc|mmap|mutex|all")
		queues   = flag.String("queues", "", "comma-separated queue_type filter (default: all)")
		logLevel = flag.String("log-level", "info", "log level: debug|info|warn|error")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	engines, err := selectEngines(*engine)
	if err != nil {
		logger.Error("invalid -engine flag", "engine", *engine, "err", err)
		os.Exit(2)
	}
	var filter map[string]bool
	if *queues != "" {
		filter = make(map[string]bool)
		for _, q := range strings.Split(*queues, ",") {
			filter[strings.TrimSpace(q)] = true
		}
	}

	out := io.Writer(os.Stdout)
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			logger.Error("opening CSV output", "path", *outPath, "err", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	defer w.Flush()
	if err := w.Write([]string{"queue_type", "operation_type", "capacity", "iterations", "batch_size", "elapsed_us", "ops_per_sec"}); err != nil {
		logger.Error("writing CSV header", "err", err)
		os.Exit(1)
	}

	for _, e := range engines {
		if filter != nil && !filter[e] {
			continue
		}
		for _, capacity := range capacities {
			for _, c := range configs {
				r, err := runOne(e, capacity, c)
				if err != nil {
					logger.Error("benchmark run failed", "queue_type", e, "capacity", capacity, "err", err)
					continue
				}
				logger.Debug("ran benchmark", "queue_type", e, "capacity", capacity, "iterations", c.iterations, "batch_size", c.batchSize)
				if err := w.Write(row(r)); err != nil {
					logger.Error("writing CSV row", "err", err)
					os.Exit(1)
				}
			}
		}
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func selectEngines(flagVal string) ([]string, error) {
	switch flagVal {
	case "all":
		return []string{"spsc", "mmap", "mutex"}, nil
	case "spsc", "mmap", "mutex":
		return []string{flagVal}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", flagVal)
	}
}

func row(r result) []string {
	return []string{
		r.queueType,
		r.operationType,
		fmt.Sprintf("%d", r.capacity),
		fmt.Sprintf("%d", r.iterations),
		fmt.Sprintf("%d", r.batchSize),
		fmt.Sprintf("%d", r.elapsedUs),
		fmt.Sprintf("%.2f", r.opsPerSec),
	}
}

func runOne(engine string, capacity int, c config) (result, error) {
	opType := "single"
	if c.batchSize > 1 {
		opType = "bulk"
	}

	var elapsed time.Duration
	switch engine {
	case "spsc":
		sink, source := spsc.NewRing[int](capacity)
		elapsed = drive(sink, source, c)
	case "mmap":
		sink, source, err := spscmmap.NewRing[int](capacity)
		if err != nil {
			return result{}, err
		}
		defer sink.Close()
		elapsed = drive(sink, source, c)
	case "mutex":
		sink, source := boundedqueue.NewQueue[int](capacity)
		elapsed = drive(sink, source, c)
	default:
		return result{}, fmt.Errorf("unknown engine %q", engine)
	}

	us := elapsed.Microseconds()
	ops := float64(c.iterations)
	opsPerSec := 0.0
	if elapsed > 0 {
		opsPerSec = ops / elapsed.Seconds()
	}
	return result{
		queueType:     engine,
		operationType: opType,
		capacity:      capacity,
		iterations:    c.iterations,
		batchSize:     c.batchSize,
		elapsedUs:     us,
		opsPerSec:     opsPerSec,
	}, nil
}

// sink and source are the minimal surface runOne needs; every engine's
// concrete Sink[T]/Source[T] satisfies this without any adapter.
type sink interface {
	TryEnqueue(int) bool
	TryEnqueueBulk([]int) int
}

type source interface {
	TryDequeue() (int, bool)
	TryDequeueBulk([]int) int
}

// drive runs c.iterations worth of enqueue/dequeue pairs (single-item or
// batched per c.batchSize) back-to-back on the same goroutine: qbench
// measures per-engine non-blocking throughput, not producer/consumer
// handoff latency, so there is no concurrency to orchestrate here.
func drive(s sink, r source, c config) time.Duration {
	if c.batchSize <= 1 {
		start := time.Now()
		for i := 0; i < c.iterations; i++ {
			s.TryEnqueue(i)
			r.TryDequeue()
		}
		return time.Since(start)
	}

	batch := make([]int, c.batchSize)
	for i := range batch {
		batch[i] = i
	}
	dst := make([]int, c.batchSize)
	rounds := c.iterations / c.batchSize
	if rounds == 0 {
		rounds = 1
	}
	start := time.Now()
	for i := 0; i < rounds; i++ {
		s.TryEnqueueBulk(batch)
		r.TryDequeueBulk(dst)
	}
	return time.Since(start)
}
