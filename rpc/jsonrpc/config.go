// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

// DefaultMaxBatch is the largest batch served when Options.MaxBatch is
// zero.
const DefaultMaxBatch = 10

// Options contains the required options for running the RPC server.
type Options struct {
	// Username and Password enable HTTP basic authentication when either
	// is set.
	Username string
	Password string

	// MaxPOSTClients is the number of concurrent requests served before
	// answering 429.
	MaxPOSTClients int64

	// MaxBatch is the largest number of calls in one batch.
	MaxBatch int
}
