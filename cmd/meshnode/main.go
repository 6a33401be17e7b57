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

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "meshnode",
	Short: "Mesh node CLI - run, inspect, and key-manage a mesh networking node",
	Long: `meshnode runs a peer-to-peer mesh networking node: authenticated
post-quantum-signed sessions, multi-hop overlay routing, chunked reliable
delivery, and UDP peer discovery.

This tool supports:
- Running a node (run)
- Generating a signing keypair and printing its public key (keygen)
- Listing a running node's peers and network stats over its health API (peers)`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Note: commands are registered in their respective files
	// - run.go: runCmd
	// - keygen.go: keygenCmd
	// - peers.go: peersCmd
}
