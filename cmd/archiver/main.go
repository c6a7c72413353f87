// The archiver subscribes the catalog topics on the MQTT broker and
// persists every inbound sample into the hot store.
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

	"iotarchive/pkg/bridge"
	"iotarchive/pkg/catalog"
	"iotarchive/pkg/config"
	"iotarchive/pkg/status"
	"iotarchive/pkg/store"
	badgerstore "iotarchive/pkg/store/badger"
	"iotarchive/pkg/store/couch"
)

const progName = "archiver"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(config.Version)
		return
	}

	if err := run(); err != nil {
		slog.Error("archiver failed", "error", err)
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
	slog.Info("archiver start", "version", config.Version, "config", cfg.Path)

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	if cat.Len() == 0 {
		return fmt.Errorf("no topics to subscribe")
	}
	slog.Info("topic catalog loaded", "topics", cat.Len())

	hot, err := openHotStore(cfg)
	if err != nil {
		return err
	}
	defer hot.Close()

	bridgeCfg, err := bridgeConfig(cfg, cat)
	if err != nil {
		return err
	}
	b := bridge.New(bridgeCfg, hot)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HasSection("status") {
		srv := status.New(cfg.String("status", "listen"), func() any { return b.Stats() })
		go srv.Run(ctx)
	}

	if err := b.Run(ctx); err != nil {
		return err
	}
	slog.Info("archiver stopped")
	return nil
}

// loadCatalog resolves the catalog path from the [iot] section. An empty
// filedir falls back to the home directory.
func loadCatalog(cfg *config.File) (*catalog.Catalog, error) {
	if err := cfg.Require("iot", "file", "filedir"); err != nil {
		return nil, err
	}
	dir := cfg.String("iot", "filedir")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving catalog directory: %w", err)
		}
		dir = home
	}
	return catalog.Load(filepath.Join(dir, cfg.String("iot", "file")))
}

func bridgeConfig(cfg *config.File, cat *catalog.Catalog) (bridge.Config, error) {
	if err := cfg.Require("mqtt", "server", "port", "user", "password", "keepalive"); err != nil {
		return bridge.Config{}, err
	}
	port, err := cfg.Int("mqtt", "port")
	if err != nil {
		return bridge.Config{}, err
	}
	keepalive, err := cfg.Int("mqtt", "keepalive")
	if err != nil {
		return bridge.Config{}, err
	}
	return bridge.Config{
		Server:        cfg.String("mqtt", "server"),
		Port:          port,
		User:          cfg.String("mqtt", "user"),
		Password:      cfg.String("mqtt", "password"),
		KeepAlive:     keepalive,
		Topics:        cat.Names(),
		QueueCapacity: cfg.IntDefault("mqtt", "queue_capacity", 0),
	}, nil
}

// openHotStore opens the hot store per the [store] driver, defaulting to
// CouchDB.
func openHotStore(cfg *config.File) (store.Store, error) {
	switch driver := cfg.String("store", "driver"); driver {
	case "", "couchdb":
		if err := cfg.Require("couchdb", "server", "port", "user", "password", "dbname"); err != nil {
			return nil, err
		}
		port, err := cfg.Int("couchdb", "port")
		if err != nil {
			return nil, err
		}
		return couch.New(context.Background(), couch.Config{
			Server:   cfg.String("couchdb", "server"),
			Port:     port,
			User:     cfg.String("couchdb", "user"),
			Password: cfg.String("couchdb", "password"),
			Database: cfg.String("couchdb", "dbname"),
		})
	case "badger":
		if err := cfg.Require("store", "path"); err != nil {
			return nil, err
		}
		return badgerstore.New(badgerstore.Config{
			Path: filepath.Join(cfg.String("store", "path"), "realtime"),
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
