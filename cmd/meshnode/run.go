// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/meshnet/config"
	"github.com/sage-x-project/meshnet/internal/logger"
	"github.com/sage-x-project/meshnet/pkg/node"
)

var (
	runConfigDir      string
	runEnvironment    string
	runListenHost     string
	runListenPort     int
	runDiscovery      bool
	runDiscoveryPort  int
	runHealthEnabled  bool
	runHealthPort     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a mesh node",
	Long: `Run starts a mesh node: it binds the TCP session transport, optionally
the UDP discovery service, the liveness supervisor, and (if enabled) the
health/metrics HTTP surface, then blocks until interrupted.`,
	Example: `  # Run with defaults (0.0.0.0, kernel-assigned port)
  meshnode run

  # Run on a fixed port with discovery and health enabled
  meshnode run --listen-port 9001 --discovery --health`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runConfigDir, "config-dir", "config", "Configuration directory")
	runCmd.Flags().StringVar(&runEnvironment, "env", "", "Environment name (default: auto-detected)")
	runCmd.Flags().StringVar(&runListenHost, "listen-host", "", "TCP listen host override")
	runCmd.Flags().IntVar(&runListenPort, "listen-port", -1, "TCP listen port override (0 = kernel-assigned)")
	runCmd.Flags().BoolVar(&runDiscovery, "discovery", false, "Enable UDP peer discovery")
	runCmd.Flags().IntVar(&runDiscoveryPort, "discovery-port", 0, "UDP discovery port override (default 54321)")
	runCmd.Flags().BoolVar(&runHealthEnabled, "health", false, "Enable the health/metrics HTTP surface")
	runCmd.Flags().IntVar(&runHealthPort, "health-port", 0, "Health HTTP port override")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: runConfigDir, Environment: runEnvironment})
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	applyRunOverrides(cfg)

	log := logger.GetDefaultLogger()
	log.SetLevel(parseLevel(cfg.Logging.Level))

	n, err := node.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}
	if err := n.Start(); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	addr, err := n.ListenAddr()
	if err != nil {
		addr = "unknown"
	}
	fmt.Printf("meshnode %s listening on %s\n", n.ID(), addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	return n.Stop()
}

func applyRunOverrides(cfg *config.Config) {
	if runListenHost != "" {
		cfg.Listen.Host = runListenHost
	}
	if runListenPort >= 0 {
		cfg.Listen.Port = runListenPort
	}
	if runDiscovery {
		cfg.Discovery.Enabled = true
	}
	if runDiscoveryPort != 0 {
		cfg.Discovery.Port = runDiscoveryPort
	}
	if runHealthEnabled {
		cfg.Health.Enabled = true
	}
	if runHealthPort != 0 {
		cfg.Health.Port = runHealthPort
	}
}

func parseLevel(s string) logger.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
