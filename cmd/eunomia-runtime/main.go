// Command eunomia-runtime is the userspace host for loading, running, and
// exporting data from compiled eBPF artifacts packaged as self-describing
// JSON/tar/wasm objects. It exposes a control plane over HTTP, a
// Prometheus metrics endpoint, and an optional directory watcher that
// auto-starts tasks as artifacts are dropped into it.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/spf13/cobra"

	"github.com/saworbit/eunomia-runtime/internal/config"
	"github.com/saworbit/eunomia-runtime/internal/metrics"
	"github.com/saworbit/eunomia-runtime/internal/platform"
	"github.com/saworbit/eunomia-runtime/pkg/artifactcache"
	"github.com/saworbit/eunomia-runtime/pkg/control"
	"github.com/saworbit/eunomia-runtime/pkg/task"
	"github.com/saworbit/eunomia-runtime/pkg/watcher"
)

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

var debugEnabled bool

func main() {
	var (
		controlAddr      string
		metricsAddr      string
		watchDir         string
		artifactCacheDir string
		hashAlgo         string
		btfCacheDir      string
		btfHubMirror     string
		disableBTFHub    bool
	)

	rootCmd := &cobra.Command{
		Use:   "eunomia-runtime",
		Short: "Userspace host for compiled eBPF artifacts",
		Long: `eunomia-runtime loads, configures, runs, and exports data from compiled
eBPF programs packaged as self-describing artifacts (composed JSON
objects, tar bundles, or WASM modules) and exposes a control plane for
starting, pausing, resuming, and tailing their logs.

Example:
  eunomia-runtime --control-addr=:9700 --watch-dir=/artifacts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debugEnabled {
				log.Println("[Debug] Verbose logging enabled")
			}

			cfg := config.LoadFromEnv()
			if cmd.Flags().Changed("control-addr") {
				cfg.ControlAddr = controlAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("watch-dir") {
				cfg.WatchDir = watchDir
			}
			if cmd.Flags().Changed("artifact-cache-dir") {
				cfg.ArtifactCacheDir = artifactCacheDir
			}
			if cmd.Flags().Changed("hash-algo") {
				cfg.HashAlgo = hashAlgo
			}
			if cmd.Flags().Changed("btf-cache-dir") {
				cfg.BTF.CacheDir = btfCacheDir
			}
			if cmd.Flags().Changed("btfhub-mirror") {
				cfg.BTF.HubMirror = btfHubMirror
			}
			if cmd.Flags().Changed("disable-btfhub-download") {
				cfg.BTF.AllowDownload = !disableBTFHub
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			return run(cfg)
		},
	}

	rootCmd.Flags().StringVar(&controlAddr, "control-addr", ":9700", "Listen address for the HTTP control plane")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9701", "Listen address for the Prometheus metrics endpoint")
	rootCmd.Flags().StringVar(&watchDir, "watch-dir", "", "Directory to watch for artifacts to auto-start (disabled if empty)")
	rootCmd.Flags().StringVar(&artifactCacheDir, "artifact-cache-dir", "", "Directory for the artifact cache's Pebble database")
	rootCmd.Flags().StringVar(&hashAlgo, "hash-algo", "sha256", "Hash algorithm for artifact content identifiers (sha256 or blake3)")
	rootCmd.Flags().StringVar(&btfCacheDir, "btf-cache-dir", "", "Directory for cached BTFHub archives")
	rootCmd.Flags().StringVar(&btfHubMirror, "btfhub-mirror", "", "Mirror to download BTFHub archives from")
	rootCmd.Flags().BoolVar(&disableBTFHub, "disable-btfhub-download", false, "Disable downloading missing BTF archives from the configured mirror")
	rootCmd.PersistentFlags().BoolVar(&debugEnabled, "debug", false, "Enable verbose debug logging")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("[Fatal] %v", err)
	}
}

func run(cfg *config.Config) error {
	metrics.SetRuntimeInfo(runtime.GOOS, runtime.GOARCH, version)
	metrics.SetUp(true)
	defer metrics.SetUp(false)

	cacheDir := platform.LongPathname(cfg.ArtifactCacheDir)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("create artifact cache directory: %w", err)
	}
	db, err := pebble.Open(cacheDir, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("open artifact cache database: %w", err)
	}
	defer db.Close()

	cache, err := artifactcache.Open(db, cfg.HashAlgo)
	if err != nil {
		return fmt.Errorf("open artifact cache: %w", err)
	}

	mgr := task.NewManager(nil)
	plane := control.NewPlaneWithCache(mgr, cache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 3)

	go func() {
		errCh <- control.Serve(ctx, cfg.ControlAddr, plane)
	}()
	go func() {
		errCh <- metrics.Serve(ctx, cfg.MetricsAddr, log.Default())
	}()

	if cfg.WatchDir != "" {
		watchDir := platform.LongPathname(cfg.WatchDir)
		if err := os.MkdirAll(watchDir, 0o755); err != nil {
			return fmt.Errorf("create watch directory: %w", err)
		}
		w, err := watcher.New(watchDir, mgr)
		if err != nil {
			return fmt.Errorf("create directory watcher: %w", err)
		}
		go func() {
			errCh <- w.Run(ctx)
		}()
	}

	go reportTasksRunning(ctx, mgr)
	go reportArtifactCacheStats(ctx, cache)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	running := 2
	if cfg.WatchDir != "" {
		running = 3
	}
	var firstErr error
	select {
	case sig := <-sigCh:
		log.Printf("[Runtime] received %s, shutting down", sig)
	case firstErr = <-errCh:
		running--
	}
	cancel()

	for ; running > 0; running-- {
		<-errCh
	}
	return firstErr
}

// reportTasksRunning samples the task manager's registry size into the
// tasks_running gauge until ctx is canceled.
func reportTasksRunning(ctx context.Context, mgr *task.Manager) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetTasksRunning(len(mgr.List()))
			metrics.SetLogBufferDepth(mgr.LogBufferDepth())
		}
	}
}

// reportArtifactCacheStats samples the artifact cache's occupancy into the
// artifact_cache_bytes gauge until ctx is canceled. GetStats already sets
// the gauge as a side effect; this just calls it on a schedule.
func reportArtifactCacheStats(ctx context.Context, cache *artifactcache.Store) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := cache.GetStats(); err != nil {
				log.Printf("[Runtime] artifact cache stats: %v", err)
			}
		}
	}
}
