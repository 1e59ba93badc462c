// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// This file contains mock implementations of the store and upstream
// interfaces used by the gateway services.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinroster/cgsd/blockcypher"
	"github.com/coinroster/cgsd/store"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockStore is a mock implementation of ProvisioningStore.
type mockStore struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockStore implements the
// ProvisioningStore interface.
var _ ProvisioningStore = (*mockStore)(nil)

func (m *mockStore) account(args mock.Arguments) (*store.Account, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Account), args.Error(1)
}

// AccountByCRAccount implements the store.AccountStore interface.
func (m *mockStore) AccountByCRAccount(ctx context.Context,
	crAccount string) (*store.Account, error) {

	return m.account(m.Called(ctx, crAccount))
}

// AccountByAddress implements the store.AccountStore interface.
func (m *mockStore) AccountByAddress(ctx context.Context,
	address string) (*store.Account, error) {

	return m.account(m.Called(ctx, address))
}

// CreateAccount implements the store.AccountStore interface.
func (m *mockStore) CreateAccount(ctx context.Context,
	params store.CreateAccountParams) (*store.Account, error) {

	return m.account(m.Called(ctx, params))
}

// ReactivateAccount implements the store.AccountStore interface.
func (m *mockStore) ReactivateAccount(ctx context.Context,
	params store.ReactivateAccountParams) (*store.Account, error) {

	return m.account(m.Called(ctx, params))
}

// UpdateLiveBalance implements the store.AccountStore interface.
func (m *mockStore) UpdateLiveBalance(ctx context.Context,
	params store.LiveBalanceParams) error {

	return m.Called(ctx, params).Error(0)
}

// RecordWithdrawal implements the store.AccountStore interface.
func (m *mockStore) RecordWithdrawal(ctx context.Context,
	params store.WithdrawalParams) error {

	return m.Called(ctx, params).Error(0)
}

// MinerFee implements the store.ControlStore interface.
func (m *mockStore) MinerFee(ctx context.Context) (fn.Option[string], error) {
	args := m.Called(ctx)
	return args.Get(0).(fn.Option[string]), args.Error(1)
}

// SetControl implements the store.ControlStore interface.
func (m *mockStore) SetControl(ctx context.Context, name, value string) error {
	return m.Called(ctx, name, value).Error(0)
}

// NextHDIndex implements the store.ControlStore interface.
func (m *mockStore) NextHDIndex(ctx context.Context) (uint32, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint32), args.Error(1)
}

// mockUpstream is a mock implementation of the Upstream interface.
type mockUpstream struct {
	mock.Mock
}

var _ Upstream = (*mockUpstream)(nil)

// AddressFull implements the BalanceSource interface.
func (m *mockUpstream) AddressFull(ctx context.Context,
	address string) (json.RawMessage, error) {

	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

// NewAddress implements the AddressSource interface.
func (m *mockUpstream) NewAddress(
	ctx context.Context) (*blockcypher.NewAddress, error) {

	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blockcypher.NewAddress), args.Error(1)
}

// NewTransaction implements the SkeletonSource interface.
func (m *mockUpstream) NewTransaction(ctx context.Context,
	req *blockcypher.TxRequest) (*blockcypher.Skeleton, error) {

	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blockcypher.Skeleton), args.Error(1)
}

// SendTransaction implements the SkeletonSender interface.
func (m *mockUpstream) SendTransaction(ctx context.Context,
	skel *blockcypher.Skeleton) (*blockcypher.SendResult, error) {

	args := m.Called(ctx, skel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blockcypher.SendResult), args.Error(1)
}

// mockBuilder is a mock implementation of TransactionBuilder.
type mockBuilder struct {
	mock.Mock
}

// BuildSkeleton implements the TransactionBuilder interface.
func (m *mockBuilder) BuildSkeleton(ctx context.Context, from string,
	to btcutil.Address, amount, fee btcutil.Amount) (*blockcypher.Skeleton,
	error) {

	args := m.Called(ctx, from, to, amount, fee)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blockcypher.Skeleton), args.Error(1)
}

// mockSigner is a mock implementation of TransactionSigner.
type mockSigner struct {
	mock.Mock
}

// Sign implements the TransactionSigner interface.
func (m *mockSigner) Sign(skel *blockcypher.Skeleton,
	wif string) (*blockcypher.Skeleton, error) {

	args := m.Called(skel, wif)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blockcypher.Skeleton), args.Error(1)
}

// mockBroadcaster is a mock implementation of TransactionBroadcaster.
type mockBroadcaster struct {
	mock.Mock
}

// Broadcast implements the TransactionBroadcaster interface.
func (m *mockBroadcaster) Broadcast(ctx context.Context,
	skel *blockcypher.Skeleton) (*Broadcast, error) {

	args := m.Called(ctx, skel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Broadcast), args.Error(1)
}

// testKey is a key pair with its P2PKH address.
type testKey struct {
	wif     *btcutil.WIF
	address btcutil.Address
}

// newTestKey generates a random compressed key for params.
func newTestKey(t *testing.T, params *chaincfg.Params) testKey {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	wif, err := btcutil.NewWIF(priv, params, true)
	require.NoError(t, err)

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(wif.SerializePubKey()), params,
	)
	require.NoError(t, err)

	return testKey{wif: wif, address: addr}
}

// reportJSON returns an address report without transactions.
func reportJSON(address string, confirmed, unconfirmed,
	final int64) json.RawMessage {

	return json.RawMessage(fmt.Sprintf(`{"address":%q,"balance":%d,`+
		`"unconfirmed_balance":%d,"final_balance":%d,"txs":[]}`,
		address, confirmed, unconfirmed, final))
}

// testSkeleton returns a skeleton with n hashes to sign.
func testSkeleton(t *testing.T, n int) *blockcypher.Skeleton {
	t.Helper()

	toSign := make([]string, n)
	for i := range toSign {
		toSign[i] = chainhash.DoubleHashH([]byte{byte(i)}).String()
	}

	var skel blockcypher.Skeleton
	body, err := json.Marshal(map[string]any{
		"tx":     map[string]any{"fees": 10},
		"tosign": toSign,
	})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &skel))

	return &skel
}
