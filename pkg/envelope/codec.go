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

package envelope

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Encode serializes an envelope to its opaque self-describing wire form.
// gob is self-describing (field names and types travel with the data)
// and needs no schema registry beyond the concrete struct types already
// known to the compiler, which keeps the (public-key, signature,
// checksum) byte slices bit-exact end to end.
func Encode(e *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("envelope: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses the opaque wire form produced by Encode.
func Decode(b []byte) (*Envelope, error) {
	var e Envelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&e); err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	return &e, nil
}
