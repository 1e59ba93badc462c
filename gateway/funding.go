// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinroster/cgsd/netparams"
	"gopkg.in/yaml.v3"
)

// FundingSource is a cash register: an address holding the float that
// services withdrawals, with the key that spends from it.
type FundingSource struct {
	Tag     string `yaml:"tag"`
	Address string `yaml:"address"`
	WIF     string `yaml:"wif"`
}

// ColdStorage is an address that swept deposits are forwarded to.
type ColdStorage struct {
	Tag     string `yaml:"tag"`
	Address string `yaml:"address"`
}

// FundingRegistry is the validated, read-only table of funding sources and
// cold storage addresses.
type FundingRegistry struct {
	funding     []FundingSource
	coldStorage []ColdStorage
}

type registryFile struct {
	Funding     []FundingSource `yaml:"funding"`
	ColdStorage []ColdStorage   `yaml:"coldstorage"`
}

// LoadFundingRegistry reads and validates a YAML funding registry file.
func LoadFundingRegistry(path string) (*FundingRegistry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reg, err := ParseFundingRegistry(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// ParseFundingRegistry decodes and validates a YAML funding registry.
func ParseFundingRegistry(r io.Reader) (*FundingRegistry, error) {
	var file registryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode funding registry: %w", err)
	}

	return NewFundingRegistry(file.Funding, file.ColdStorage)
}

// NewFundingRegistry validates the given entries and returns a registry
// holding them in order.
func NewFundingRegistry(funding []FundingSource,
	coldStorage []ColdStorage) (*FundingRegistry, error) {

	for i, src := range funding {
		if err := validateFundingSource(src); err != nil {
			return nil, fmt.Errorf("funding entry %d: %w", i, err)
		}
	}
	for i, cs := range coldStorage {
		params, err := paramsForTag(cs.Tag)
		if err != nil {
			return nil, fmt.Errorf("cold storage entry %d: %w", i, err)
		}
		if _, err := decodeAddress(cs.Address, params); err != nil {
			return nil, fmt.Errorf("cold storage entry %d: %w", i, err)
		}
	}

	return &FundingRegistry{
		funding:     append([]FundingSource(nil), funding...),
		coldStorage: append([]ColdStorage(nil), coldStorage...),
	}, nil
}

func paramsForTag(tag string) (*netparams.Params, error) {
	if tag == "" {
		return nil, fmt.Errorf("missing tag")
	}
	return netparams.ForFundingTag(tag)
}

// validateFundingSource checks that the address decodes for the tag's
// network and that the key spends from it.
func validateFundingSource(src FundingSource) error {
	params, err := paramsForTag(src.Tag)
	if err != nil {
		return err
	}
	addr, err := decodeAddress(src.Address, params)
	if err != nil {
		return err
	}

	wif, err := btcutil.DecodeWIF(src.WIF)
	if err != nil {
		return fmt.Errorf("address %s: invalid wif: %w", src.Address, err)
	}
	if !wif.IsForNet(params.Params) {
		return fmt.Errorf("address %s: wif is not for %s", src.Address,
			params.Name)
	}

	keyAddr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(wif.SerializePubKey()), params.Params,
	)
	if err != nil {
		return err
	}
	if keyAddr.EncodeAddress() != addr.EncodeAddress() {
		return fmt.Errorf("address %s: wif belongs to %s", src.Address,
			keyAddr.EncodeAddress())
	}

	return nil
}

func decodeAddress(s string, params *netparams.Params) (btcutil.Address,
	error) {

	addr, err := btcutil.DecodeAddress(s, params.Params)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if !addr.IsForNet(params.Params) {
		return nil, fmt.Errorf("address %q is not for %s", s, params.Name)
	}
	return addr, nil
}

// SelectFundingSource returns the first funding source configured for tag.
func (r *FundingRegistry) SelectFundingSource(tag string) (FundingSource,
	error) {

	for _, src := range r.funding {
		if src.Tag == tag {
			return src, nil
		}
	}
	return FundingSource{}, &Error{
		Kind:    ErrNoFundingSource,
		Stage:   StageSelectingFunding,
		Message: fmt.Sprintf("No cash register configured for %q.", tag),
		Err:     ErrNoFundingSourceConfigured,
	}
}

// Sources returns the funding sources configured for tag, in order.
func (r *FundingRegistry) Sources(tag string) []FundingSource {
	var out []FundingSource
	for _, src := range r.funding {
		if src.Tag == tag {
			out = append(out, src)
		}
	}
	return out
}

// ColdStorage returns the cold storage addresses configured for tag.
func (r *FundingRegistry) ColdStorage(tag string) []string {
	var out []string
	for _, cs := range r.coldStorage {
		if cs.Tag == tag {
			out = append(out, cs.Address)
		}
	}
	return out
}
