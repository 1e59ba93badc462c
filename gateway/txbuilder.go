// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinroster/cgsd/blockcypher"
)

// SkeletonBuilder builds single input, single output skeletons through the
// upstream API.
type SkeletonBuilder struct {
	api SkeletonSource
}

// NewSkeletonBuilder returns a builder backed by api.
func NewSkeletonBuilder(api SkeletonSource) *SkeletonBuilder {
	return &SkeletonBuilder{api: api}
}

// BuildSkeleton requests a skeleton spending from the from address to the
// destination for amount, paying fee to miners.
func (b *SkeletonBuilder) BuildSkeleton(ctx context.Context, from string,
	to btcutil.Address, amount, fee btcutil.Amount) (*blockcypher.Skeleton,
	error) {

	req := &blockcypher.TxRequest{
		Inputs: []blockcypher.TxInput{{
			Addresses: []string{from},
		}},
		Outputs: []blockcypher.TxOutput{{
			Addresses: []string{to.EncodeAddress()},
			Value:     int64(amount),
		}},
		Fees: int64(fee),
	}
	return b.api.NewTransaction(ctx, req)
}

// upstreamPayload returns the raw upstream body carried by err, if any.
func upstreamPayload(err error) any {
	var apiErr *blockcypher.APIError
	if errors.As(err, &apiErr) && len(apiErr.Payload) > 0 {
		return apiErr.Payload
	}
	return nil
}
