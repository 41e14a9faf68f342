// Command nitros is a small CLI for interacting with a running nitros
// pub/sub fabric: listing discovered topics, echoing decoded values, and
// measuring publish rate.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/nitros-io/nitros"
	"github.com/nitros-io/nitros/internal/discovery"
	"github.com/nitros-io/nitros/internal/nlog"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	nlog.Enable()
	nlog.Init()
	if err := nlog.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level, using default\n")
	}
	log := nlog.Logger().With("component", "cli")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.subcommand {
	case "list":
		err = runList(ctx, cfg)
	case "info":
		err = runInfo(ctx, cfg)
	case "echo":
		err = runEcho(ctx, cfg)
	case "hz":
		err = runHz(ctx, cfg)
	}
	if err != nil {
		log.Error("command failed", "subcommand", cfg.subcommand, "error", err)
		os.Exit(1)
	}
}

func runList(ctx context.Context, cfg *cliConfig) error {
	infos, err := discovery.ListTopics(ctx, cfg.timeout)
	if err != nil {
		return err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Topic < infos[j].Topic })
	for _, info := range infos {
		fmt.Printf("%s\t%s:%d\t%s\n", info.Topic, info.Host, info.Port, compressionLabel(info.Compression))
	}
	return nil
}

func runInfo(ctx context.Context, cfg *cliConfig) error {
	infos, err := discovery.ListTopics(ctx, cfg.timeout)
	if err != nil {
		return err
	}
	found := false
	for _, info := range infos {
		if info.Topic != cfg.topic {
			continue
		}
		found = true
		fmt.Printf("topic:       %s\n", info.Topic)
		fmt.Printf("endpoint:    %s:%d\n", info.Host, info.Port)
		fmt.Printf("compression: %s\n", compressionLabel(info.Compression))
	}
	if !found {
		return fmt.Errorf("no publisher found for topic %q within %s", cfg.topic, cfg.timeout)
	}
	return nil
}

func runEcho(ctx context.Context, cfg *cliConfig) error {
	sub, err := nitros.NewSubscriber(cfg.topic, func(v nitros.Value) {
		fmt.Printf("%v\n", v)
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	<-ctx.Done()
	return shutdown(sub)
}

func runHz(ctx context.Context, cfg *cliConfig) error {
	rate := newRateCounter()
	sub, err := nitros.NewSubscriber(cfg.topic, func(v nitros.Value) {
		rate.incr()
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	tick := cfg.window / 4
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return shutdown(sub)
		case <-ticker.C:
			fmt.Printf("%.1f msg/s (over %s)\n", rate.hz(cfg.window), cfg.window)
		}
	}
}

// rateCounter tracks a monotonically increasing event count and derives a
// rolling-window rate from periodic samples. Safe for concurrent use: incr
// is called from the subscriber's dispatch goroutine, hz from the CLI's
// ticker loop.
type rateCounter struct {
	mu      sync.Mutex
	count   int64
	samples []rateSample
}

type rateSample struct {
	at    time.Time
	count int64
}

func newRateCounter() *rateCounter {
	return &rateCounter{samples: []rateSample{{at: time.Now()}}}
}

func (r *rateCounter) incr() {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

// hz samples the current count, prunes samples older than window, and
// returns the average rate across the remaining window.
func (r *rateCounter) hz(window time.Duration) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.samples = append(r.samples, rateSample{at: now, count: r.count})

	cutoff := now.Add(-window)
	i := 0
	for i < len(r.samples)-1 && r.samples[i].at.Before(cutoff) {
		i++
	}
	r.samples = r.samples[i:]

	first, last := r.samples[0], r.samples[len(r.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.count-first.count) / elapsed
}

func compressionLabel(mode string) string {
	if mode == "" {
		return "none"
	}
	return mode
}

type closer interface {
	Close() error
}

func shutdown(c closer) error {
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("forced exit after timeout")
	}
}
