// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iceessence/localcursor/internal/backend"
	"github.com/Iceessence/localcursor/internal/gateway"
	"github.com/Iceessence/localcursor/internal/history"
	"github.com/Iceessence/localcursor/internal/server"
	"github.com/Iceessence/localcursor/internal/settings"
	"github.com/Iceessence/localcursor/internal/workspace"
)

// shutdownGrace is how long in-flight requests get to finish on SIGINT.
const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return err
	}

	st, err := settings.NewStore(cfg.SettingsPath())
	if err != nil {
		return err
	}
	defer st.Close()

	hist := history.NewLog(cfg.HistoryPath())

	ws, err := workspace.NewStore(cfg.Workspace.Root)
	if err != nil {
		return err
	}

	timeouts := backend.Timeouts{
		Connect: cfg.ConnectTimeout(),
		Read:    cfg.ReadTimeout(),
		List:    cfg.ListTimeout(),
	}
	gw := gateway.New(st, hist, timeouts)

	srv := server.NewServer(cfg, gw, st, hist, ws)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigCh:
		log.Printf("SIGNAL_RECEIVED | signal=%v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(ctx)
}
