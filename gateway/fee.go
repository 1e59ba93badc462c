// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"fmt"
	"math"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/shopspring/decimal"
)

// DefaultMinerFee is used when neither the request nor the control table
// provides a valid miner fee.
const DefaultMinerFee btcutil.Amount = 10

// FeeSource says where a resolved fee came from.
type FeeSource string

const (
	FeeFromRequest FeeSource = "request"
	FeeFromControl FeeSource = "control"
	FeeFromDefault FeeSource = "default"
)

// Fee is a resolved miner fee.
type Fee struct {
	Amount btcutil.Amount
	Source FeeSource

	// Problems lists the candidates that were present but rejected.
	Problems []string
}

var maxFee = decimal.NewFromInt(math.MaxInt64)

// parseFee parses a non-negative integer satoshi amount.
func parseFee(s string) (btcutil.Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	switch {
	case err != nil:
		return 0, fmt.Errorf("%q is not a number", s)
	case d.IsNegative():
		return 0, fmt.Errorf("%q is negative", s)
	case !d.IsInteger():
		return 0, fmt.Errorf("%q is not a whole number of satoshis", s)
	case d.GreaterThan(maxFee):
		return 0, fmt.Errorf("%q is out of range", s)
	}
	return btcutil.Amount(d.IntPart()), nil
}

// ResolveFee picks the miner fee of a withdrawal: a valid per-request
// override first, then a valid persisted override, then def. It never
// fails; rejected candidates are reported in Fee.Problems.
func ResolveFee(override, persisted fn.Option[string],
	def btcutil.Amount) Fee {

	var problems []string
	candidates := []struct {
		value  fn.Option[string]
		source FeeSource
	}{
		{override, FeeFromRequest},
		{persisted, FeeFromControl},
	}
	for _, c := range candidates {
		if c.value.IsNone() {
			continue
		}

		amt, err := parseFee(c.value.UnwrapOr(""))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s fee: %v",
				c.source, err))
			continue
		}

		return Fee{Amount: amt, Source: c.source, Problems: problems}
	}

	return Fee{Amount: def, Source: FeeFromDefault, Problems: problems}
}
