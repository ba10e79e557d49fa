package main

// flags.go parses memtier-inspect's command-line options. Kept separate
// from main.go so the flag surface can grow without cluttering the control
// flow, mirroring the teacher's convention of a dedicated flags file per
// CLI command.
//
// © 2025 memtier authors. MIT License.

import (
	"flag"
	"time"
)

type options struct {
	target           string
	json             bool
	watch            bool
	interval         time.Duration
	heapProfile      string
	goroutineProfile string
	version          bool
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.target, "target", "http://127.0.0.1:6060", "base URL of a service exposing /debug/memtier/snapshot")
	flag.BoolVar(&o.json, "json", false, "print the raw JSON snapshot instead of a formatted report")
	flag.BoolVar(&o.watch, "watch", false, "poll the snapshot endpoint repeatedly instead of once")
	flag.DurationVar(&o.interval, "interval", 2*time.Second, "poll interval when -watch is set")
	flag.StringVar(&o.heapProfile, "heap-profile", "", "download /debug/pprof/heap to this path and exit")
	flag.StringVar(&o.goroutineProfile, "goroutine-profile", "", "download /debug/pprof/goroutine to this path and exit")
	flag.BoolVar(&o.version, "version", false, "print the build version and exit")
	flag.Parse()
	return o
}
