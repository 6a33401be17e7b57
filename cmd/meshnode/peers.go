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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var peersHealthAddr string

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List a running node's peers and network stats",
	Long: `peers queries a running node's health HTTP surface at /peers and
prints its currently Authenticated peers plus aggregate network statistics.
The target node must have been started with --health.`,
	Example: `  meshnode peers --addr http://127.0.0.1:8080`,
	RunE:    runPeers,
}

func init() {
	rootCmd.AddCommand(peersCmd)
	peersCmd.Flags().StringVar(&peersHealthAddr, "addr", "http://127.0.0.1:8080", "Health HTTP base address")
}

type peerRecord struct {
	ID   string `json:"ID"`
	Host string `json:"Host"`
	Port int    `json:"Port"`
}

type networkStats struct {
	ActivePeers    int     `json:"ActivePeers"`
	AverageLatency int64   `json:"AverageLatency"`
	TotalMessages  uint64  `json:"TotalMessages"`
	ErrorRate      float64 `json:"ErrorRate"`
}

type peersResponse struct {
	Stats networkStats `json:"stats"`
	Peers []peerRecord `json:"peers"`
}

func runPeers(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(peersHealthAddr + "/peers")
	if err != nil {
		return fmt.Errorf("query %s/peers: %w", peersHealthAddr, err)
	}
	defer resp.Body.Close()

	var out peersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Printf("active peers:    %d\n", out.Stats.ActivePeers)
	fmt.Printf("average latency: %s\n", time.Duration(out.Stats.AverageLatency))
	fmt.Printf("total messages:  %d\n", out.Stats.TotalMessages)
	fmt.Printf("error rate:      %.1f%%\n", out.Stats.ErrorRate)
	fmt.Println()
	for _, p := range out.Peers {
		fmt.Printf("  %s  %s:%d\n", p.ID, p.Host, p.Port)
	}
	return nil
}
