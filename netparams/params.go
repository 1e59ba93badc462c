// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for the networks the gateway can
// service.
type Params struct {
	*chaincfg.Params

	// APINetwork is the path segment the upstream block explorer uses to
	// address this network, e.g. "btc/main".
	APINetwork string

	// FundingTag is the currency tag under which the funding sources
	// (cash registers) for this network are configured.
	FundingTag string

	// RPCServerPort is the default port for the JSON-RPC listener.
	RPCServerPort string
}

// MainNetParams contains parameters specific to running cgsd against the
// main bitcoin network.
var MainNetParams = Params{
	Params:        &chaincfg.MainNetParams,
	APINetwork:    "btc/main",
	FundingTag:    "btc",
	RPCServerPort: "8090",
}

// TestNet3Params contains parameters specific to running cgsd against the
// bitcoin test network (version 3).
var TestNet3Params = Params{
	Params:        &chaincfg.TestNet3Params,
	APINetwork:    "btc/test3",
	FundingTag:    "tbtc",
	RPCServerPort: "18090",
}

// ForFundingTag returns the network parameters a funding tag refers to.
func ForFundingTag(tag string) (*Params, error) {
	switch tag {
	case MainNetParams.FundingTag:
		return &MainNetParams, nil
	case TestNet3Params.FundingTag:
		return &TestNet3Params, nil
	default:
		return nil, fmt.Errorf("unknown funding tag %q", tag)
	}
}
