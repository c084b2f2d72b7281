// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package readingstore

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/wattwatch/wattwatch/lib/codec"
	"github.com/wattwatch/wattwatch/lib/schema/electricity"
)

// Fingerprint identifies a reading's content.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// fingerprintKey is the BLAKE3 key for reading fingerprints: the ASCII
// domain name, zero-padded to 32 bytes. Changing it orphans every
// stored fingerprint.
var fingerprintKey = [32]byte{
	'w', 'a', 't', 't', 'w', 'a', 't', 'c', 'h', '.', 'r', 'e', 'a', 'd', 'i', 'n',
	'g', '.', 'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't', 0, 0, 0,
}

// fingerprintInput is hashed in its deterministic CBOR encoding.
type fingerprintInput struct {
	DeviceID string     `cbor:"1,keyasint"`
	Values   [6]float64 `cbor:"2,keyasint"`
}

// FingerprintOf returns the content fingerprint of reading.
func FingerprintOf(reading electricity.Reading) Fingerprint {
	encoded, err := codec.Marshal(fingerprintInput{
		DeviceID: reading.DeviceID,
		Values:   reading.Values(),
	})
	if err != nil {
		// A string and six floats always encode.
		panic("readingstore: encoding fingerprint input: " + err.Error())
	}
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("readingstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(encoded)
	var fingerprint Fingerprint
	copy(fingerprint[:], hasher.Sum(nil))
	return fingerprint
}
