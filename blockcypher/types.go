// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockcypher

import (
	"encoding/json"
	"fmt"
)

// NewAddress is a freshly generated address with its key material, as
// returned by POST /addrs.
type NewAddress struct {
	Address string `json:"address"`
	Private string `json:"private"`
	Public  string `json:"public"`
	WIF     string `json:"wif"`
}

// TxInput selects the addresses a new transaction spends from.
type TxInput struct {
	Addresses []string `json:"addresses"`
}

// TxOutput is a payment in a new transaction.
type TxOutput struct {
	Addresses []string `json:"addresses"`
	Value     int64    `json:"value"`
}

// TxRequest is the body of POST /txs/new.
type TxRequest struct {
	Inputs  []TxInput  `json:"inputs"`
	Outputs []TxOutput `json:"outputs"`
	Fees    int64      `json:"fees"`
}

// Skeleton is an unsigned transaction as returned by POST /txs/new. Fields
// the gateway does not interpret are kept verbatim and sent back with the
// signatures.
type Skeleton struct {
	// ToSign holds the hex encoded hashes that must be signed, in input
	// order.
	ToSign []string

	// Signatures holds the hex encoded DER signatures, aligned with
	// ToSign.
	Signatures []string

	// PubKeys holds the hex encoded public keys, aligned with ToSign.
	PubKeys []string

	fields map[string]json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Skeleton) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	var skel Skeleton
	for key, dst := range map[string]*[]string{
		"tosign":     &skel.ToSign,
		"signatures": &skel.Signatures,
		"pubkeys":    &skel.PubKeys,
	} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("skeleton %s: %w", key, err)
		}
		delete(fields, key)
	}
	skel.fields = fields

	*s = skel
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Skeleton) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.fields)+3)
	for k, v := range s.fields {
		out[k] = v
	}
	if s.ToSign != nil {
		out["tosign"] = s.ToSign
	}
	if s.Signatures != nil {
		out["signatures"] = s.Signatures
	}
	if s.PubKeys != nil {
		out["pubkeys"] = s.PubKeys
	}
	return json.Marshal(out)
}

// Field returns a verbatim field of the skeleton that has no typed
// counterpart, such as "tx".
func (s *Skeleton) Field(name string) (json.RawMessage, bool) {
	v, ok := s.fields[name]
	return v, ok
}

// SendResult is the response of POST /txs/send.
type SendResult struct {
	// Tx is the transaction object reported by the network, verbatim.
	Tx json.RawMessage

	// Hash is tx.hash, empty when absent.
	Hash string
}

func (r *SendResult) UnmarshalJSON(b []byte) error {
	var body struct {
		Tx json.RawMessage `json:"tx"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return err
	}

	result := SendResult{Tx: body.Tx}
	if len(body.Tx) > 0 && string(body.Tx) != "null" {
		var tx struct {
			Hash string `json:"hash"`
		}
		if err := json.Unmarshal(body.Tx, &tx); err != nil {
			return fmt.Errorf("send result tx: %w", err)
		}
		result.Hash = tx.Hash
	}

	*r = result
	return nil
}
