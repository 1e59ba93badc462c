// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinroster/cgsd/blockcypher"
	"github.com/coinroster/cgsd/store"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newBalanceService(t *testing.T) (*BalanceService, *mockStore,
	*mockUpstream, *clock.TestClock) {

	t.Helper()

	s := &mockStore{}
	api := &mockUpstream{}
	clk := clock.NewTestClock(testTime)
	t.Cleanup(func() {
		s.AssertExpectations(t)
		api.AssertExpectations(t)
	})

	svc := NewBalanceService(BalanceConfig{
		Accounts: s,
		API:      api,
		Clock:    clk,
		Interval: 10 * time.Minute,
	})
	return svc, s, api, clk
}

func balanceAccount(lastCheck fn.Option[time.Time]) *store.Account {
	return &store.Account{
		ID:            3,
		CRAccount:     fn.Some("bob"),
		Address:       "1BobAddress",
		Confirmed:     120_000,
		Unconfirmed:   5_000,
		Withdrawn:     20_000,
		Available:     100_000,
		LastLiveCheck: lastCheck,
	}
}

// TestGetBalanceCached checks that a recent check is served from the store.
func TestGetBalanceCached(t *testing.T) {
	t.Parallel()

	svc, s, api, _ := newBalanceService(t)
	s.On("AccountByCRAccount", mock.Anything, "bob").Return(
		balanceAccount(fn.Some(testTime.Add(-9*time.Minute))), nil,
	).Once()

	bal, err := svc.GetBalance(context.Background(), BalanceRequest{
		Type:      "btc",
		CRAccount: "bob",
	})
	require.NoError(t, err)
	require.False(t, bal.Live)
	require.Equal(t, btcutil.Amount(120_000), bal.Confirmed)
	require.Equal(t, btcutil.Amount(5_000), bal.Unconfirmed)
	require.Equal(t, btcutil.Amount(125_000), bal.Final)
	api.AssertNotCalled(t, "AddressFull")
}

// TestGetBalanceLive checks a live check with reconciliation and its
// persistence.
func TestGetBalanceLive(t *testing.T) {
	t.Parallel()

	for _, last := range []fn.Option[time.Time]{
		fn.None[time.Time](),
		fn.Some(testTime.Add(-10 * time.Minute)),
	} {
		svc, s, api, _ := newBalanceService(t)
		acct := balanceAccount(last)
		s.On("AccountByAddress", mock.Anything, "1BobAddress").
			Return(acct, nil).Once()

		// One confirmed transaction is listed twice.
		report := json.RawMessage(`{
			"address": "1BobAddress",
			"balance": 500000,
			"unconfirmed_balance": 0,
			"final_balance": 500000,
			"txs": [
				{"hash": "aa", "confirmations": 3, "outputs": [
					{"addresses": ["1BobAddress"], "value": 1000}]},
				{"hash": "aa", "confirmations": 3, "outputs": [
					{"addresses": ["1BobAddress"], "value": 1000}]}
			]
		}`)
		api.On("AddressFull", mock.Anything, "1BobAddress").
			Return(report, nil).Once()
		s.On("UpdateLiveBalance", mock.Anything, store.LiveBalanceParams{
			AccountID: 3,
			Confirmed: 499_000,
			CheckedAt: testTime,
		}).Return(nil).Once()

		bal, err := svc.GetBalance(context.Background(), BalanceRequest{
			Type:    "btc",
			Address: "1BobAddress",
		})
		require.NoError(t, err)
		require.True(t, bal.Live)
		require.Equal(t, btcutil.Amount(499_000), bal.Confirmed)
		require.Equal(t, btcutil.Amount(500_000), bal.Final)
		require.Equal(t, btcutil.Amount(479_000), acct.Available)
		require.Equal(t, fn.Some(testTime), acct.LastLiveCheck)
	}
}

// TestGetBalanceFailures checks the error kinds of a balance query.
func TestGetBalanceFailures(t *testing.T) {
	t.Parallel()

	stale := fn.Some(testTime.Add(-time.Hour))

	testCases := []struct {
		name  string
		req   BalanceRequest
		setup func(s *mockStore, api *mockUpstream)
		kind  ErrorKind
	}{
		{
			name: "unsupported currency",
			req:  BalanceRequest{Type: "doge", CRAccount: "bob"},
			kind: ErrUnsupportedCurrency,
		},
		{
			name: "no selector",
			req:  BalanceRequest{Type: "btc"},
			kind: ErrInvalidParams,
		},
		{
			name: "unknown account",
			req:  BalanceRequest{Type: "btc", CRAccount: "bob"},
			setup: func(s *mockStore, _ *mockUpstream) {
				s.On("AccountByCRAccount", mock.Anything, "bob").
					Return(nil, store.ErrNoMatchingAccount).Once()
			},
			kind: ErrNoMatchingAccount,
		},
		{
			name: "upstream failure",
			req:  BalanceRequest{Type: "btc", CRAccount: "bob"},
			setup: func(s *mockStore, api *mockUpstream) {
				s.On("AccountByCRAccount", mock.Anything, "bob").
					Return(balanceAccount(stale), nil).Once()
				api.On("AddressFull", mock.Anything, "1BobAddress").
					Return(nil, &blockcypher.APIError{
						Op:  "addrs/full",
						Err: errors.New("timeout"),
					}).Once()
			},
			kind: ErrExternalAPI,
		},
		{
			name: "malformed report",
			req:  BalanceRequest{Type: "btc", CRAccount: "bob"},
			setup: func(s *mockStore, api *mockUpstream) {
				s.On("AccountByCRAccount", mock.Anything, "bob").
					Return(balanceAccount(stale), nil).Once()
				api.On("AddressFull", mock.Anything, "1BobAddress").
					Return(json.RawMessage(`{"address":"1BobAddress",`+
						`"balance":"lots","txs":[]}`), nil).Once()
			},
			kind: ErrMalformedReport,
		},
		{
			name: "persist failure",
			req:  BalanceRequest{Type: "btc", CRAccount: "bob"},
			setup: func(s *mockStore, api *mockUpstream) {
				s.On("AccountByCRAccount", mock.Anything, "bob").
					Return(balanceAccount(stale), nil).Once()
				api.On("AddressFull", mock.Anything, "1BobAddress").
					Return(reportJSON("1BobAddress", 1, 0, 1), nil).
					Once()
				s.On("UpdateLiveBalance", mock.Anything,
					mock.Anything).Return(errors.New("locked")).Once()
			},
			kind: ErrDatabase,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc, s, api, _ := newBalanceService(t)
			if tc.setup != nil {
				tc.setup(s, api)
			}

			_, err := svc.GetBalance(context.Background(), tc.req)
			require.True(t, IsKind(err, tc.kind), "got %v", err)
		})
	}
}

// TestLiveReportClampsNegatives checks that an over-corrected report never
// yields a negative balance.
func TestLiveReportClampsNegatives(t *testing.T) {
	t.Parallel()

	api := &mockUpstream{}
	api.On("AddressFull", mock.Anything, "1Addr").Return(json.RawMessage(`{
		"address": "1Addr", "balance": 500, "unconfirmed_balance": 0,
		"final_balance": 500,
		"txs": [
			{"hash": "bb", "confirmations": 0, "outputs": [
				{"addresses": ["1Addr"], "value": 700}]},
			{"hash": "bb", "confirmations": 0, "outputs": [
				{"addresses": ["1Addr"], "value": 700}]}
		]
	}`), nil).Once()

	report, err := liveReport(context.Background(), api, "1Addr")
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(500), report.Confirmed)
	require.Zero(t, report.Unconfirmed)
}

// TestMajorUnits checks satoshi to bitcoin formatting.
func TestMajorUnits(t *testing.T) {
	t.Parallel()

	testCases := map[btcutil.Amount]string{
		0:             "0",
		1:             "0.00000001",
		50_000:        "0.0005",
		100_000_000:   "1",
		2_100_000_000: "21",
		-10:           "-0.0000001",
	}
	for amt, expected := range testCases {
		require.Equal(t, expected, MajorUnits(amt), "amount %d", amt)
	}
}
