// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/coinroster/cgsd/blockcypher"
)

// ErrMissingHash is returned when an accepted broadcast carries no
// transaction hash.
var ErrMissingHash = errors.New("broadcast result has no transaction hash")

// Publisher broadcasts signed skeletons through the upstream API.
type Publisher struct {
	api SkeletonSender
}

// NewPublisher returns a publisher backed by api.
func NewPublisher(api SkeletonSender) *Publisher {
	return &Publisher{api: api}
}

// Broadcast submits skel once. A response without a transaction hash is a
// failure even when the HTTP exchange succeeded.
func (p *Publisher) Broadcast(ctx context.Context,
	skel *blockcypher.Skeleton) (*Broadcast, error) {

	result, err := p.api.SendTransaction(ctx, skel)
	if err != nil {
		return nil, err
	}

	hash := strings.TrimSpace(result.Hash)
	if hash == "" || strings.EqualFold(hash, "null") {
		return nil, &blockcypher.APIError{
			Op:      "txs/send",
			Payload: result.Tx,
			Err:     ErrMissingHash,
		}
	}

	return &Broadcast{Hash: hash, Tx: result.Tx}, nil
}
