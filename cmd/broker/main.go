// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/stompd/stompd/broker"
	"github.com/stompd/stompd/codec"
	"github.com/stompd/stompd/config"
	"github.com/stompd/stompd/server/tcp"
	"github.com/stompd/stompd/store"
	"github.com/stompd/stompd/store/memory"
	"github.com/stompd/stompd/store/postgres"
)

func main() {
	cfg, err := config.Parse(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("starting stompd", "port", cfg.Port, "log_level", cfg.LogLevel)

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		slog.Error("failed to open persistence store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	stats := broker.NewStats()
	b := broker.New(st, logger, stats)
	b.ReceiptSuppressOnError = cfg.ReceiptSuppressOnError

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frameMode := codec.Mode{TrailingNewline: cfg.FrameTrailingNewline}
	tcpCfg := tcp.Config{
		Address:        ":" + strconv.Itoa(cfg.Port),
		Logger:         logger,
		MaxConnections: cfg.MaxConns,
		FrameMode:      frameMode,
	}
	if cfg.ReadTimeoutSeconds > 0 {
		tcpCfg.ReadTimeout = time.Duration(cfg.ReadTimeoutSeconds) * time.Second
	}
	if cfg.WriteTimeoutSeconds > 0 {
		tcpCfg.WriteTimeout = time.Duration(cfg.WriteTimeoutSeconds) * time.Second
	}
	server := tcp.New(tcpCfg, b)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("listening", "address", tcpCfg.Address)
		serverErr <- server.Listen(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		if err := <-serverErr; err != nil {
			slog.Error("shutdown error", "error", err)
		}
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		cancel()
	}

	snap := stats.Snapshot()
	slog.Info("stompd stopped",
		"dispatched", snap.Dispatched,
		"fanned_out", snap.FannedOut,
		"persisted", snap.Persisted,
		"replayed", snap.Replayed,
		"errors", snap.Errors,
		"uptime", snap.Uptime)
}

// openStore connects to Postgres when a password, socket directory, or
// non-default host was given on the CLI; otherwise it falls back to an
// in-memory store so the broker is runnable without a database for local
// testing (spec.md's own Persistence Adapter is "external", §2 item 2 — the
// broker only consumes the store.Store interface).
func openStore(cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DBPassword == "" && cfg.DBSockDir == "" && cfg.DBHost == "localhost" {
		logger.Info("no database configured, using in-memory persistence store")
		s := memory.New()
		return s, func() { s.Close() }, nil
	}

	pgCfg := postgres.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Database: cfg.DBDatabase,
		SockDir:  cfg.DBSockDir,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := postgres.Open(ctx, pgCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to postgres", "host", cfg.DBHost, "database", cfg.DBDatabase)
	return s, func() { s.Close() }, nil
}
