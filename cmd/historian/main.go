// The historian consolidates windows of hot samples into single
// aggregated records in the cold historical store, purging the originals.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"iotarchive/pkg/config"
	"iotarchive/pkg/consolidate"
	"iotarchive/pkg/devices"
	"iotarchive/pkg/status"
	"iotarchive/pkg/store"
	badgerstore "iotarchive/pkg/store/badger"
	"iotarchive/pkg/store/couch"
)

const progName = "historian"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(config.Version)
		return
	}

	if err := run(); err != nil {
		slog.Error("historian failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(progName)
	if err != nil {
		return err
	}

	logFile, err := config.SetupLogging(cfg, progName)
	if err != nil {
		return err
	}
	defer logFile.Close()

	slog.Info("---------------------------------------------------------")
	slog.Info("historian start", "version", config.Version, "config", cfg.Path)

	hot, cold, devs, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer hot.Close()
	defer cold.Close()
	defer devs.Close()

	engine := consolidate.New(consolidate.Config{
		Window: time.Duration(cfg.IntDefault("historian", "window_minutes", 10)) * time.Minute,
		Idle:   time.Duration(cfg.IntDefault("historian", "idle_seconds", 60)) * time.Second,
	}, hot, cold, devices.NewResolver(devs))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HasSection("status") {
		srv := status.New(cfg.String("status", "listen"), func() any { return engine.Stats() })
		go srv.Run(ctx)
	}

	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	slog.Info("historian stopped")
	return nil
}

// openStores connects the three stores the engine needs. Any store being
// unreachable is fatal: the engine refuses to run without all of them.
func openStores(cfg *config.File) (hot, cold, devs store.Store, err error) {
	switch driver := cfg.String("store", "driver"); driver {
	case "", "couchdb":
		return openCouchStores(cfg)
	case "badger":
		return openBadgerStores(cfg)
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func openCouchStores(cfg *config.File) (hot, cold, devs store.Store, err error) {
	keys := []string{"server", "port", "user", "password",
		"realtime_dbname", "datastore_dbname", "devices_dbname"}
	if err := cfg.Require("couchdb", keys...); err != nil {
		return nil, nil, nil, err
	}
	port, err := cfg.Int("couchdb", "port")
	if err != nil {
		return nil, nil, nil, err
	}

	base := couch.Config{
		Server:   cfg.String("couchdb", "server"),
		Port:     port,
		User:     cfg.String("couchdb", "user"),
		Password: cfg.String("couchdb", "password"),
	}
	ctx := context.Background()

	open := func(key string) (*couch.Store, error) {
		c := base
		c.Database = cfg.String("couchdb", key)
		return couch.New(ctx, c)
	}

	hotStore, err := open("realtime_dbname")
	if err != nil {
		return nil, nil, nil, err
	}
	if err := hotStore.EnsureDesign(ctx); err != nil {
		hotStore.Close()
		return nil, nil, nil, err
	}

	coldStore, err := open("datastore_dbname")
	if err != nil {
		hotStore.Close()
		return nil, nil, nil, err
	}
	devStore, err := open("devices_dbname")
	if err != nil {
		hotStore.Close()
		coldStore.Close()
		return nil, nil, nil, err
	}
	return hotStore, coldStore, devStore, nil
}

func openBadgerStores(cfg *config.File) (hot, cold, devs store.Store, err error) {
	if err := cfg.Require("store", "path"); err != nil {
		return nil, nil, nil, err
	}
	base := cfg.String("store", "path")

	open := func(name string) (*badgerstore.Store, error) {
		return badgerstore.New(badgerstore.Config{Path: filepath.Join(base, name)})
	}

	hotStore, err := open("realtime")
	if err != nil {
		return nil, nil, nil, err
	}
	coldStore, err := open("datastore")
	if err != nil {
		hotStore.Close()
		return nil, nil, nil, err
	}
	devStore, err := open("devices")
	if err != nil {
		hotStore.Close()
		coldStore.Close()
		return nil, nil, nil, err
	}
	return hotStore, coldStore, devStore, nil
}
