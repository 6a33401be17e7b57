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
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/meshnet/pkg/meshnet"
	"github.com/sage-x-project/meshnet/pkg/signature"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a fresh ML-DSA-65 signing keypair and print its identity",
	Long: `keygen generates a fresh post-quantum signing keypair and prints a
random node-id plus the full public key in its opaque wire format,
base64-encoded. It does
not persist anything: a node's keypair is regenerated at every start unless
NodeID continuity across restarts is handled at a layer above this CLI.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	sig, err := signature.NewService()
	if err != nil {
		return fmt.Errorf("init signature service: %w", err)
	}
	kp, err := sig.Keypair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	pubBytes, err := sig.PublicKeyBytes(kp.PublicKey())
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	id := meshnet.NewNodeID()
	fmt.Printf("node-id:    %s\n", id)
	fmt.Printf("public-key: %s\n", base64.StdEncoding.EncodeToString(pubBytes))
	return nil
}
