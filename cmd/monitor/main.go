// Command monitor tails a running ingestion from the terminal: the
// progress bar, the document in flight and the failure count.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kbstack/kb-ingest/config"
	"github.com/kbstack/kb-ingest/internal/state"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	once := flag.Bool("once", false, "print one snapshot and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	st := state.New(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	for {
		printSnapshot(ctx, st)
		if *once {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
		}
	}
}

func printSnapshot(ctx context.Context, st *state.Store) {
	progress, err := st.Progress(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "progress:", err)
		return
	}

	fmt.Printf("[%s] %s %d/%d", time.Now().Format("15:04:05"),
		progress.Stage, progress.Done, progress.Total)
	if progress.Total > 0 {
		fmt.Printf(" %s %3.0f%%", bar(progress.Done, progress.Total, 30),
			100*float64(progress.Done)/float64(progress.Total))
	}
	fmt.Println()

	if doc, err := st.CurrentDoc(ctx); err == nil && doc != nil {
		fmt.Printf("  current: %s (%s)\n", doc.Filename, doc.Step)
	}

	stats, err := st.Stats(ctx)
	if err == nil {
		fmt.Printf("  ok=%d failed=%d chunks=%d\n",
			stats.Success, stats.Failed, stats.Chunked)
	}
}

func bar(done, total, width int) string {
	filled := done * width / total
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}
