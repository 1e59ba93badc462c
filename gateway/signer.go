// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinroster/cgsd/blockcypher"
)

// KeySigner signs skeleton hashes locally with RFC6979 deterministic ECDSA.
type KeySigner struct {
	params *chaincfg.Params
}

// NewKeySigner returns a signer accepting keys for the given network.
func NewKeySigner(params *chaincfg.Params) *KeySigner {
	return &KeySigner{params: params}
}

// Sign signs every entry of skel.ToSign with the key and returns a copy of
// the skeleton carrying one DER signature and one public key per entry, in
// the same order. The input skeleton is not modified.
func (s *KeySigner) Sign(skel *blockcypher.Skeleton,
	wifStr string) (*blockcypher.Skeleton, error) {

	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("decode wif: %w", err)
	}
	if !wif.IsForNet(s.params) {
		return nil, fmt.Errorf("wif is not for %s", s.params.Name)
	}
	if len(skel.ToSign) == 0 {
		return nil, fmt.Errorf("skeleton has nothing to sign")
	}

	pubKey := hex.EncodeToString(wif.SerializePubKey())
	sigs := make([]string, len(skel.ToSign))
	pubKeys := make([]string, len(skel.ToSign))
	for i, toSign := range skel.ToSign {
		b, err := hex.DecodeString(toSign)
		if err != nil {
			return nil, fmt.Errorf("tosign[%d]: %w", i, err)
		}
		hash, err := chainhash.NewHash(b)
		if err != nil {
			return nil, fmt.Errorf("tosign[%d]: %w", i, err)
		}

		// The upstream hands out the final sighash, so it is signed
		// as is rather than hashed again.
		sig := ecdsa.Sign(wif.PrivKey, hash[:])
		sigs[i] = hex.EncodeToString(sig.Serialize())
		pubKeys[i] = pubKey
	}

	signed := *skel
	signed.Signatures = sigs
	signed.PubKeys = pubKeys
	return &signed, nil
}
