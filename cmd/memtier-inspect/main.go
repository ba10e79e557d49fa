package main

// main.go implements the memtier inspector CLI: it parses command-line
// flags, fetches a diagnostic snapshot from a target process exposing the
// memtier debug endpoint, and prints it either as pretty text or JSON. It
// also supports periodic watch mode and pprof snapshot download.
//
// The target Go service is expected to expose:
//   - GET /debug/memtier/snapshot        – JSON payload with tier statistics.
//   - GET /debug/pprof/{heap,goroutine}  – standard pprof handlers (net/http/pprof).
//
// The snapshot object is intentionally generic; we decode into a loosely
// typed struct to avoid version skew between CLI and library.
//
// © 2025 memtier authors. MIT License.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
)

var version = "dev"

// tierStat mirrors one entry of the tiers array in a memtier snapshot
// response. No handler in this repository serves that endpoint; these
// field names define the JSON shape the CLI expects.
type tierStat struct {
	Name      string `json:"name"`
	LiveBytes int64  `json:"live_bytes"`
	Placed    uint64 `json:"placed_total"`
}

type snapshot struct {
	Tiers        []tierStat `json:"tiers"`
	HotThreshold float64    `json:"hot_threshold,omitempty"`
	QueueDepth   int64      `json:"queue_depth,omitempty"`
	QueueDropped uint64     `json:"queue_dropped,omitempty"`
}

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.heapProfile != "" {
		if err := downloadProfile(ctx, opts.target, "heap", opts.heapProfile); err != nil {
			fatal(err)
		}
		return
	}
	if opts.goroutineProfile != "" {
		if err := downloadProfile(ctx, opts.target, "goroutine", opts.goroutineProfile); err != nil {
			fatal(err)
		}
		return
	}

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

func dumpOnce(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}
	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (*snapshot, error) {
	url := base + "/debug/memtier/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var snap snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func prettyPrint(snap *snapshot) error {
	for _, t := range snap.Tiers {
		fmt.Printf("%-12s %10s live  %8d placed\n", t.Name, humanize.Bytes(uint64(max64(t.LiveBytes, 0))), t.Placed)
	}
	if snap.HotThreshold != 0 {
		fmt.Printf("hot threshold: %.4f\n", snap.HotThreshold)
	}
	if snap.QueueDepth != 0 || snap.QueueDropped != 0 {
		fmt.Printf("event queue: depth=%d dropped=%d\n", snap.QueueDepth, snap.QueueDropped)
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", name, path)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "memtier-inspect:", err)
	os.Exit(1)
}
