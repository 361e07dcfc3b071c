// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sealedbid/empa/api"
	"github.com/sealedbid/empa/auction"
	"github.com/sealedbid/empa/pkg/log"
	"github.com/sealedbid/empa/pkg/metric"
	"github.com/sealedbid/empa/pkg/storage"
)

var (
	// Node configuration flags
	port      = flag.Int("port", 8080, "Public API port")
	adminPort = flag.Int("admin-port", 9090, "Admin listener port (health, metrics)")
	dataDir   = flag.String("data-dir", "/tmp/empad", "Data directory")
	dbType    = flag.String("db", "badger", "Database backend: badger, memory")
	env       = flag.String("env", "development", "Environment (development/production)")
	logLevel  = flag.String("log-level", "info", "Log level")
	origins   = flag.String("origins", "", "Allowed CORS origins (comma-separated; empty allows all)")

	snapshotEvery = flag.Duration("snapshot-interval", 30*time.Second, "Interval between full state snapshots")

	// Version info
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	flag.Parse()

	fmt.Printf("EMPA Daemon (empad) %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)

	logger := log.NewWithLevel(*logLevel)
	defer logger.Sync()

	metrics, err := metric.NewMetrics()
	if err != nil {
		fmt.Printf("Failed to create metrics: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewStore(*dbType, *dataDir)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	house := auction.NewHouse(logger)
	restored, err := store.LoadHouse(house)
	if err != nil {
		fmt.Printf("Failed to restore state: %v\n", err)
		os.Exit(1)
	}
	logger.Info(fmt.Sprintf("restored %d lots from %s", restored, *dataDir))

	server := api.NewServer(house, store, metrics, logger)

	var allowed []string
	if *origins != "" {
		for _, o := range strings.Split(*origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowed = append(allowed, o)
			}
		}
	}

	publicSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: server.Router(*env, allowed),
	}
	adminSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *adminPort),
		Handler: server.AdminRouter(),
	}

	go func() {
		logger.Info(fmt.Sprintf("public API listening on :%d", *port))
		if err := publicSrv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf("public server: %v", err))
		}
	}()
	go func() {
		logger.Info(fmt.Sprintf("admin listener on :%d", *adminPort))
		if err := adminSrv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf("admin server: %v", err))
		}
	}()

	// Periodic full snapshot; individual mutations are persisted inline by
	// the API layer, this catches anything that slipped.
	stopSnapshots := make(chan struct{})
	go func() {
		ticker := time.NewTicker(*snapshotEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := store.SaveHouse(house); err != nil {
					logger.Error(fmt.Sprintf("snapshot: %v", err))
				}
			case <-stopSnapshots:
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	close(stopSnapshots)
	server.Hub().Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := publicSrv.Shutdown(ctx); err != nil {
		logger.Error(fmt.Sprintf("public server shutdown: %v", err))
	}
	if err := adminSrv.Shutdown(ctx); err != nil {
		logger.Error(fmt.Sprintf("admin server shutdown: %v", err))
	}
	if err := store.SaveHouse(house); err != nil {
		logger.Error(fmt.Sprintf("final snapshot: %v", err))
	}

	fmt.Println("Daemon stopped")
}
