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

// Package signature is the node's signing primitive: keypair generation,
// signing, and verification, backed by a lattice-based post-quantum
// scheme. It is the one component the specification treats as an
// external collaborator (sign/verify/public-key accessor only); every
// caller above this package treats keys and signatures as opaque bytes.
package signature

import (
	"crypto"
	"fmt"

	circlsign "github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"
)

// schemeName selects ML-DSA-65 (FIPS 204 / Dilithium3 parameter set),
// which supplies >=128-bit post-quantum security per the specification.
const schemeName = "ML-DSA-65"

// KeyPair is a generated signing identity: a public/private key pair.
type KeyPair struct {
	pub  circlsign.PublicKey
	priv circlsign.PrivateKey
}

// PublicKey returns the public key as an opaque crypto.PublicKey, usable
// with Service.Verify and Service.PublicKeyBytes.
func (k KeyPair) PublicKey() crypto.PublicKey { return k.pub }

// Service implements the node's signature primitive. It has no mutable
// state and is safe for concurrent use by every subsystem that holds a
// reference to it (handshake engine, registry, node facade).
type Service struct {
	scheme circlsign.Scheme
}

// NewService constructs a Service backed by the ML-DSA-65 lattice
// signature scheme.
func NewService() (*Service, error) {
	scheme := schemes.ByName(schemeName)
	if scheme == nil {
		return nil, fmt.Errorf("signature: scheme %q not registered", schemeName)
	}
	return &Service{scheme: scheme}, nil
}

// Keypair generates a fresh signing identity.
func (s *Service) Keypair() (KeyPair, error) {
	pub, priv, err := s.scheme.GenerateKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("signature: generate keypair: %w", err)
	}
	return KeyPair{pub: pub, priv: priv}, nil
}

// Sign produces a signature over msg using kp's private key.
func (s *Service) Sign(kp KeyPair, msg []byte) ([]byte, error) {
	if kp.priv == nil {
		return nil, fmt.Errorf("signature: nil private key")
	}
	return s.scheme.Sign(kp.priv, msg, nil), nil
}

// Verify reports whether sig is a valid signature over msg under pub.
// pub must be a crypto.PublicKey returned by KeyPair.PublicKey or
// PublicKeyFromBytes, or a KeyPair; raw key bytes are not accepted.
func (s *Service) Verify(pub crypto.PublicKey, msg, sig []byte) (bool, error) {
	pk, err := s.publicKey(pub)
	if err != nil {
		return false, err
	}
	return s.scheme.Verify(pk, msg, sig, nil), nil
}

// PublicKeyBytes marshals a public key to its opaque wire form.
func (s *Service) PublicKeyBytes(pub crypto.PublicKey) ([]byte, error) {
	pk, err := s.publicKey(pub)
	if err != nil {
		return nil, err
	}
	return pk.MarshalBinary()
}

// PublicKeyFromBytes parses the opaque wire form produced by
// PublicKeyBytes back into a crypto.PublicKey.
func (s *Service) PublicKeyFromBytes(b []byte) (crypto.PublicKey, error) {
	pk, err := s.scheme.UnmarshalBinaryPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("signature: unmarshal public key: %w", err)
	}
	return pk, nil
}

func (s *Service) publicKey(pub crypto.PublicKey) (circlsign.PublicKey, error) {
	switch v := pub.(type) {
	case circlsign.PublicKey:
		return v, nil
	case KeyPair:
		return v.pub, nil
	default:
		return nil, fmt.Errorf("signature: unsupported public key type %T", pub)
	}
}
