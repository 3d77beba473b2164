package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/roomsteer/internal/artifact"
	"github.com/nextlevelbuilder/roomsteer/internal/autochronicler"
	"github.com/nextlevelbuilder/roomsteer/internal/history"
	"github.com/nextlevelbuilder/roomsteer/internal/roomconfig"
	"github.com/nextlevelbuilder/roomsteer/internal/rooms"
)

// handlerRegistry holds the live *rooms.Handler for the served room behind a
// mutex, swapped wholesale on every config reload — CommandResolver validates
// and derives its lookup tables once at construction, so a config change
// means building a fresh resolver/handler rather than mutating one in place.
type handlerRegistry struct {
	mu      sync.RWMutex
	handler *rooms.Handler
}

func (r *handlerRegistry) get() *rooms.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handler
}

func (r *handlerRegistry) set(h *rooms.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if room == "" {
		slog.Error("--room is required")
		os.Exit(1)
	}
	path := resolveConfigPath()

	store, err := history.OpenSQLiteStore(envOr("ROOMSTEER_DB", "roomsteer.db"))
	if err != nil {
		slog.Error("failed to open history store", "error", err)
		os.Exit(1)
	}

	chronicler := autochronicler.NewThresholdChronicler(50, func(ctx context.Context, serverTag, channelName string) error {
		slog.Info("chronicle threshold reached", "server", serverTag, "channel", channelName)
		return nil
	})

	deps := rooms.Deps{
		History:    store,
		Actor:      echoActor{},
		RawCaller:  echoActor{},
		Chronicler: chronicler,
		Artifacts:  artifact.NewFileExecutor(envOr("ROOMSTEER_ARTIFACT_DIR", "./artifacts"), envOr("ROOMSTEER_ARTIFACT_BASE_URL", "file://./artifacts")),
	}

	reg := &handlerRegistry{}
	if err := loadAndBuild(reg, path, room, deps); err != nil {
		slog.Error("failed to load room config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			slog.Info("shutdown initiated", "signal", sig)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		return watchConfig(gctx, path, reg, deps)
	})

	g.Go(func() error {
		return runFakeChannel(gctx, reg, room)
	})

	slog.Info("roomsteerd serving", "version", Version, "room", room, "config", path)

	if err := g.Wait(); err != nil {
		slog.Error("roomsteerd exited with error", "error", err)
		os.Exit(1)
	}
}

func loadAndBuild(reg *handlerRegistry, path, roomName string, deps rooms.Deps) error {
	cfgRoot, err := roomconfig.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	roomCfg, err := roomconfig.GetRoomConfig(cfgRoot, roomName)
	if err != nil {
		return fmt.Errorf("resolve room %q: %w", roomName, err)
	}
	handler, err := rooms.NewHandler(roomName, roomCfg, deps)
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}
	reg.set(handler)
	return nil
}

// watchConfig hot-reloads the room config on every write, building a fresh
// handler and swapping it into reg: in-flight steering sessions on the old handler keep
// running to completion since reg.set only affects messages arriving after
// the swap.
func watchConfig(ctx context.Context, path string, reg *handlerRegistry, deps rooms.Deps) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		<-ctx.Done()
		return nil
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		slog.Warn("config watcher could not watch file", "path", path, "error", err)
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			slog.Info("config file changed, reloading", "path", path)
			if err := loadAndBuild(reg, path, room, deps); err != nil {
				slog.Error("config reload failed, keeping previous handler", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
