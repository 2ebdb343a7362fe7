// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command swarmd-daemon is the background process that owns the swarm
// engine: it loads the daemon configuration, opens the peer listener, and
// serves the control-plane RPC socket clients connect to.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/spf13/cobra"

	"github.com/dstore-labs/swarmd/engine"
	"github.com/dstore-labs/swarmd/internal/config"
	"github.com/dstore-labs/swarmd/internal/logging"
	"github.com/dstore-labs/swarmd/rpc"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "swarmd-daemon",
	Short: "swarmd-daemon runs the background swarm engine and its control-plane RPC socket.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(configFile)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "path to a YAML configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	eng, err := engine.New(cfg, engine.Config{}, clock.New(), sugar)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return err
	}

	srv := rpc.NewServer(rpc.ServerConfig{
		SocketPath: cfg.RPC.SocketPath,
		PIDFile:    cfg.RPC.PIDFile,
	}, eng, sugar)
	if err := srv.Listen(); err != nil {
		return err
	}
	sugar.Infof("swarmd-daemon listening on %s", cfg.RPC.SocketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	sugar.Info("swarmd-daemon shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.New(), nil
	}
	return config.Load(path)
}
