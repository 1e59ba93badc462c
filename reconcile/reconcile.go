// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package reconcile corrects address balance reports that list the same
// transaction more than once.
//
// The upstream block explorer occasionally repeats a transaction in the
// transaction list of an address report and counts its outputs towards the
// reported balances every time it appears. Reconcile drops the repeats and
// backs their outputs to the queried address out of the confirmed or
// unconfirmed balance, depending on whether the repeated transaction has
// confirmations. The final balance is passed through as reported.
package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// ErrMalformedReport is returned when a balance report is missing a
// required field or carries a non-numeric value where a number is expected.
var ErrMalformedReport = errors.New("malformed balance report")

// Output is a single transaction output as listed in a balance report.
type Output struct {
	Addresses []string
	Value     btcutil.Amount
}

// Tx is a transaction as listed in a balance report.
type Tx struct {
	Hash          string
	Confirmations int64
	Outputs       []Output
}

// Report is a parsed balance report for a single address.
type Report struct {
	// Address is the address the report describes.
	Address string

	// Confirmed is the confirmed balance.
	Confirmed btcutil.Amount

	// Unconfirmed is the unconfirmed balance.
	Unconfirmed btcutil.Amount

	// Final is the confirmed plus unconfirmed balance, as reported.
	Final btcutil.Amount

	// Txs is the transaction list. After reconciliation it holds each
	// hash once, in first-seen order.
	Txs []Tx

	// Duplicates records the hash of every dropped repeat, once per
	// occurrence.
	Duplicates []string
}

// Reconcile parses a raw address report and returns it with repeated
// transactions removed and the confirmed and unconfirmed balances
// corrected. Any missing or non-numeric field makes the whole report
// invalid and ErrMalformedReport is returned.
func Reconcile(raw []byte) (*Report, error) {
	report, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return Dedupe(report), nil
}

// Dedupe returns a copy of report without repeated transactions. For every
// repeat, each output paying report.Address is subtracted from the
// unconfirmed balance if the repeat has no confirmations and from the
// confirmed balance otherwise. A hash seen N times is subtracted N-1 times.
func Dedupe(report *Report) *Report {
	out := &Report{
		Address:     report.Address,
		Confirmed:   report.Confirmed,
		Unconfirmed: report.Unconfirmed,
		Final:       report.Final,
		Txs:         make([]Tx, 0, len(report.Txs)),
	}

	seen := make(map[string]struct{}, len(report.Txs))
	for _, tx := range report.Txs {
		if _, ok := seen[tx.Hash]; !ok {
			seen[tx.Hash] = struct{}{}
			out.Txs = append(out.Txs, tx)
			continue
		}

		out.Duplicates = append(out.Duplicates, tx.Hash)
		for _, output := range tx.Outputs {
			for _, addr := range output.Addresses {
				if addr != report.Address {
					continue
				}
				if tx.Confirmations == 0 {
					out.Unconfirmed -= output.Value
				} else {
					out.Confirmed -= output.Value
				}
			}
		}
	}

	return out
}

type rawOutput struct {
	Addresses []string     `json:"addresses"`
	Value     *json.Number `json:"value"`
}

type rawTx struct {
	Hash          *string      `json:"hash"`
	Confirmations *json.Number `json:"confirmations"`
	Outputs       *[]rawOutput `json:"outputs"`
}

type rawReport struct {
	Address            *string      `json:"address"`
	Balance            *json.Number `json:"balance"`
	UnconfirmedBalance *json.Number `json:"unconfirmed_balance"`
	FinalBalance       *json.Number `json:"final_balance"`
	Txs                *[]rawTx     `json:"txs"`
}

// Parse decodes a raw address report without reconciling it.
func Parse(raw []byte) (*Report, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var r rawReport
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}

	if r.Address == nil || *r.Address == "" {
		return nil, malformed("address")
	}
	if r.Txs == nil {
		return nil, malformed("txs")
	}

	report := &Report{
		Address: *r.Address,
		Txs:     make([]Tx, 0, len(*r.Txs)),
	}

	var err error
	if report.Confirmed, err = amount(r.Balance, "balance"); err != nil {
		return nil, err
	}
	report.Unconfirmed, err = amount(
		r.UnconfirmedBalance, "unconfirmed_balance",
	)
	if err != nil {
		return nil, err
	}
	if report.Final, err = amount(r.FinalBalance, "final_balance"); err != nil {
		return nil, err
	}

	for i, tx := range *r.Txs {
		parsed, err := parseTx(tx)
		if err != nil {
			return nil, fmt.Errorf("txs[%d]: %w", i, err)
		}
		report.Txs = append(report.Txs, parsed)
	}

	return report, nil
}

func parseTx(tx rawTx) (Tx, error) {
	if tx.Hash == nil || *tx.Hash == "" {
		return Tx{}, malformed("hash")
	}
	if tx.Confirmations == nil {
		return Tx{}, malformed("confirmations")
	}
	confs, err := tx.Confirmations.Int64()
	if err != nil {
		return Tx{}, malformed("confirmations")
	}
	if tx.Outputs == nil {
		return Tx{}, malformed("outputs")
	}

	parsed := Tx{
		Hash:          *tx.Hash,
		Confirmations: confs,
		Outputs:       make([]Output, 0, len(*tx.Outputs)),
	}
	for j, output := range *tx.Outputs {
		value, err := amount(output.Value, "value")
		if err != nil {
			return Tx{}, fmt.Errorf("outputs[%d]: %w", j, err)
		}

		// Data carrier outputs have no recipient addresses.
		parsed.Outputs = append(parsed.Outputs, Output{
			Addresses: output.Addresses,
			Value:     value,
		})
	}

	return parsed, nil
}

func amount(n *json.Number, field string) (btcutil.Amount, error) {
	if n == nil {
		return 0, malformed(field)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, malformed(field)
	}
	return btcutil.Amount(v), nil
}

func malformed(field string) error {
	return fmt.Errorf("%w: missing or non-numeric %q", ErrMalformedReport,
		field)
}
