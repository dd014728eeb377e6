package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dockerish/embedworker/pkg/embedding"
	"github.com/dockerish/embedworker/pkg/embedding/models"
	"github.com/dockerish/embedworker/pkg/embedding/pyencoder"
	"github.com/dockerish/embedworker/pkg/embedding/rpc"
	"github.com/dockerish/embedworker/pkg/gpuinfo"
	"github.com/dockerish/embedworker/pkg/logging"
	"golang.org/x/sync/errgroup"
)

var log = logging.New()

func main() {
	os.Exit(run())
}

// run performs preflight, wires the worker, and drives it until shutdown,
// returning the process exit code. It is split out from main so tests can
// exercise it without an os.Exit call terminating the test binary.
func run() int {
	registryPath := envOr("EMBEDWORKER_REGISTRY_PATH", "models.json")
	cacheRoot := envOr("EMBEDWORKER_CACHE_DIR", models.DefaultCacheRoot())
	pythonPath := envOr("EMBEDWORKER_PYTHON_PATH", "python3")
	adapterScript := envOr("EMBEDWORKER_ADAPTER_SCRIPT", "")

	if missing := checkDependencies(pythonPath, adapterScript, registryPath); len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "DEPENDENCY_ERROR: Missing packages: %s\n", joinComma(missing))
		return 1
	}

	pauseWindow := envDurationSeconds("CRAWLING_PAUSE_SECONDS", 60*time.Second)
	idleTimeout := envDurationSeconds("KEEP_ALIVE_SECONDS", 60*time.Minute)
	shutdownGrace := envDurationSeconds("SHUTDOWN_GRACE_PERIOD_SECONDS", 5*time.Second)
	log.Infof("configuration: crawling_pause=%s keep_alive=%s shutdown_grace=%s", pauseWindow, idleTimeout, shutdownGrace)

	registry, err := models.LoadRegistry(registryPath)
	if err != nil {
		log.Errorf("loading model registry: %v", err)
		return 1
	}

	device := gpuinfo.New("").Detect()
	log.Infof("accelerator detected: %s", device)

	var outMu sync.Mutex
	progress := rpc.NewProgressEmitter(os.Stdout, &outMu)

	worker := rpc.NewWorker(rpc.NewWorkerConfig{
		Log:         log,
		Registry:    registry,
		CacheRoot:   cacheRoot,
		Device:      device,
		PauseWindow: pauseWindow,
		IdleTimeout: idleTimeout,
		Progress:    progress,
		NewEncoder: func() embedding.TextEncoder {
			return pyencoder.New(log, pythonPath, adapterScript)
		},
	})

	dispatcher := rpc.NewDispatcher(log, worker, os.Stdin, os.Stdout, &outMu, shutdownGrace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		worker.Scheduler().Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		dispatcher.Run(groupCtx)
		return nil
	})

	if modelID := initialModelID(); modelID != "" {
		go func() {
			if err := worker.Lifecycle().LoadModel(groupCtx, modelID, func(err error) {
				worker.Scheduler().AbortQueued(err)
			}); err != nil {
				log.Errorf("initial model load failed: %v", err)
			}
		}()
	}

	select {
	case <-dispatcher.Done():
		log.Infoln("stdin closed or shutdown requested, draining")
	case <-ctx.Done():
		log.Infoln("shutdown signal received, draining")
	}

	worker.Scheduler().Stop()
	stop()
	dispatcher.WaitForShutdown(waitForGroup(group))

	log.Infoln("embedworker stopped")
	return 0
}

// waitForGroup adapts an errgroup.Group's Wait into a channel so it can
// race against a grace-period timeout without blocking the shutdown path
// indefinitely.
func waitForGroup(group *errgroup.Group) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()
	return done
}

// initialModelID returns the optional model-id argument the parent passes
// on invocation; with no argument the worker comes up IDLE.
func initialModelID() string {
	if len(os.Args) < 2 {
		return ""
	}
	return os.Args[1]
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		log.Warnf("ignoring invalid %s=%q, using default %s", key, raw, fallback)
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// checkDependencies runs the startup preflight: the Python adapter
// interpreter must be resolvable on PATH, the adapter script (if any) must
// exist, and the model registry file must be present.
func checkDependencies(pythonPath, adapterScript, registryPath string) []string {
	var missing []string

	if _, err := exec.LookPath(pythonPath); err != nil {
		missing = append(missing, pythonPath)
	}
	if adapterScript != "" {
		if _, err := os.Stat(adapterScript); err != nil {
			missing = append(missing, adapterScript)
		}
	}
	if _, err := os.Stat(registryPath); err != nil {
		missing = append(missing, registryPath)
	}
	return missing
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}
