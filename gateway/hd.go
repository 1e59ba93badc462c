// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/coinroster/cgsd/blockcypher"
)

// HDDeriver derives deposit addresses locally along m/0'/i of a root
// extended private key.
type HDDeriver struct {
	branch *hdkeychain.ExtendedKey
	params *chaincfg.Params
}

// NewHDDeriver parses a root extended private key for the given network.
func NewHDDeriver(xprv string, params *chaincfg.Params) (*HDDeriver, error) {
	root, err := hdkeychain.NewKeyFromString(xprv)
	if err != nil {
		return nil, fmt.Errorf("parse extended key: %w", err)
	}
	if !root.IsPrivate() {
		return nil, errors.New("extended key is not private")
	}
	if !root.IsForNet(params) {
		return nil, fmt.Errorf("extended key is not for %s", params.Name)
	}

	branch, err := root.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, fmt.Errorf("derive m/0': %w", err)
	}

	return &HDDeriver{branch: branch, params: params}, nil
}

// Derive returns the address and key material at m/0'/index.
func (d *HDDeriver) Derive(index uint32) (*blockcypher.NewAddress, error) {
	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("index %d out of range", index)
	}

	child, err := d.branch.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("derive m/0'/%d: %w", index, err)
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, err
	}
	wif, err := btcutil.NewWIF(priv, d.params, true)
	if err != nil {
		return nil, err
	}

	pub := priv.PubKey().SerializeCompressed()
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub), d.params)
	if err != nil {
		return nil, err
	}

	return &blockcypher.NewAddress{
		Address: addr.EncodeAddress(),
		Private: hex.EncodeToString(priv.Serialize()),
		Public:  hex.EncodeToString(pub),
		WIF:     wif.String(),
	}, nil
}

// indexedAddresses adapts an HDDeriver to AddressSource by taking the next
// index from the control table.
type indexedAddresses struct {
	deriver *HDDeriver
	next    func(ctx context.Context) (uint32, error)
}

func (a *indexedAddresses) NewAddress(
	ctx context.Context) (*blockcypher.NewAddress, error) {

	index, err := a.next(ctx)
	if err != nil {
		return nil, databaseError(err)
	}
	log.Debugf("Deriving deposit address m/0'/%d", index)
	return a.deriver.Derive(index)
}
