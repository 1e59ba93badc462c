// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"encoding/json"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinroster/cgsd/blockcypher"
)

// BalanceSource fetches raw address reports from the upstream explorer.
type BalanceSource interface {
	AddressFull(ctx context.Context, address string) (json.RawMessage,
		error)
}

// AddressSource generates fresh addresses with their key material.
type AddressSource interface {
	NewAddress(ctx context.Context) (*blockcypher.NewAddress, error)
}

// SkeletonSource requests unsigned transaction skeletons.
type SkeletonSource interface {
	NewTransaction(ctx context.Context, req *blockcypher.TxRequest) (
		*blockcypher.Skeleton, error)
}

// SkeletonSender broadcasts signed skeletons.
type SkeletonSender interface {
	SendTransaction(ctx context.Context, skel *blockcypher.Skeleton) (
		*blockcypher.SendResult, error)
}

// Upstream is the complete explorer API the gateway depends on. It is
// satisfied by *blockcypher.Client.
type Upstream interface {
	BalanceSource
	AddressSource
	SkeletonSource
	SkeletonSender
}

// TransactionBuilder produces an unsigned skeleton paying amount from one
// address to another.
type TransactionBuilder interface {
	BuildSkeleton(ctx context.Context, from string, to btcutil.Address,
		amount, fee btcutil.Amount) (*blockcypher.Skeleton, error)
}

// TransactionSigner signs every hash of a skeleton with a WIF encoded key
// and returns the signed copy.
type TransactionSigner interface {
	Sign(skel *blockcypher.Skeleton, wif string) (*blockcypher.Skeleton,
		error)
}

// TransactionBroadcaster submits a signed skeleton and returns the network
// transaction and its hash.
type TransactionBroadcaster interface {
	Broadcast(ctx context.Context, skel *blockcypher.Skeleton) (
		*Broadcast, error)
}

// Broadcast is an accepted transaction.
type Broadcast struct {
	// Hash is the transaction hash reported by the network.
	Hash string

	// Tx is the network's transaction object, verbatim.
	Tx json.RawMessage
}
