// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/coinroster/cgsd/gateway"
	"github.com/coinroster/cgsd/store"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func rawParams(t *testing.T, s string) *call {
	t.Helper()

	params, err := decodeParams(json.RawMessage(s))
	require.NoError(t, err)
	return &call{id: "req-1", params: params}
}

func TestSendTransactionParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params string
		want   *gateway.WithdrawalParams
	}{
		{
			name: "string amount by craccount",
			params: `{"type":"btc","craccount":"alice",` +
				`"toAddress":"1dest","amount":{"satoshi":"50000"}}`,
			want: &gateway.WithdrawalParams{
				RequestID: "req-1",
				Type:      "btc",
				CRAccount: "alice",
				ToAddress: "1dest",
				Amount:    "50000",
			},
		},
		{
			name: "numeric amount and fee by address",
			params: `{"type":"btc","fromAddress":"1src",` +
				`"toAddress":"1dest","amount":{"satoshi":700},` +
				`"fee":25}`,
			want: &gateway.WithdrawalParams{
				RequestID:   "req-1",
				Type:        "btc",
				FromAddress: "1src",
				ToAddress:   "1dest",
				Amount:      "700",
				Fee:         fn.Some("25"),
			},
		},
		{
			name: "key override",
			params: `{"type":"btc","craccount":"alice",` +
				`"toAddress":"1dest","amount":{"satoshi":"1"},` +
				`"keys":{"btc":{"private":"p","public":"q",` +
				`"wif":"w"}}}`,
			want: &gateway.WithdrawalParams{
				RequestID: "req-1",
				Type:      "btc",
				CRAccount: "alice",
				ToAddress: "1dest",
				Amount:    "1",
				Keys: fn.Some(store.Keys{"btc": store.KeyBundle{
					Private: "p", Public: "q", WIF: "w",
				}}),
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			m, svc := newMockServices()
			m.On("Withdraw", mock.Anything, test.want).Return(
				&gateway.WithdrawalResult{
					RequestID:           "req-1",
					Hash:                "abcd",
					Tx:                  json.RawMessage(`{"hash":"abcd"}`),
					CashRegisterBalance: 949990,
				}, nil)

			res, err := sendTransaction(context.Background(), svc,
				rawParams(t, test.params))
			require.NoError(t, err)

			b, err := json.Marshal(res)
			require.NoError(t, err)
			require.JSONEq(t, `{"tx":{"hash":"abcd"},"hash":"abcd",`+
				`"cashRegisterBalance":{"satoshi":"949990",`+
				`"bitcoin":"0.0094999"}}`, string(b))
			m.AssertExpectations(t)
		})
	}
}

func TestSendTransactionRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		params  string
		message string
	}{
		{
			name:    "no destination",
			params:  `{"type":"btc","amount":{"satoshi":"1"}}`,
			message: `Required parameter "toAddress" not found in request.`,
		},
		{
			name:    "null amount",
			params:  `{"type":"btc","toAddress":"1d","amount":null}`,
			message: `Required parameter "amount" not found in request.`,
		},
		{
			name:    "no satoshi",
			params:  `{"type":"btc","toAddress":"1d","amount":{}}`,
			message: `Required parameter "amount.satoshi" not found in request.`,
		},
		{
			name:    "amount not an object",
			params:  `{"type":"btc","toAddress":"1d","amount":5}`,
			message: `Parameter "amount" is not valid.`,
		},
		{
			name: "bad fee",
			params: `{"type":"btc","toAddress":"1d",` +
				`"amount":{"satoshi":"1"},"fee":{}}`,
			message: `Parameter "fee" is not valid.`,
		},
		{
			name: "bad keys",
			params: `{"type":"btc","toAddress":"1d",` +
				`"amount":{"satoshi":"1"},"keys":"x"}`,
			message: `Parameter "keys" is not valid.`,
		},
		{
			name:    "type not a string",
			params:  `{"type":1,"toAddress":"1d","amount":{"satoshi":"1"}}`,
			message: `Parameter "type" is not valid.`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			m, svc := newMockServices()
			_, err := sendTransaction(context.Background(), svc,
				rawParams(t, test.params))

			rpcErr := jsonError(err)
			require.Equal(t, btcjson.ErrRPCInvalidParams.Code, rpcErr.Code)
			require.Equal(t, test.message, rpcErr.Message)
			m.AssertNotCalled(t, "Withdraw", mock.Anything, mock.Anything)
		})
	}
}

func TestSendTransactionWarning(t *testing.T) {
	t.Parallel()

	m, svc := newMockServices()
	m.On("Withdraw", mock.Anything, mock.Anything).Return(
		&gateway.WithdrawalResult{
			RequestID:           "req-1",
			Hash:                "abcd",
			Tx:                  json.RawMessage(`{"hash":"abcd"}`),
			CashRegisterBalance: -10,
			Warning:             "ledger not updated",
		}, nil)

	res, err := sendTransaction(context.Background(), svc, rawParams(t,
		`{"type":"btc","craccount":"a","toAddress":"1d",`+
			`"amount":{"satoshi":"1"}}`))
	require.NoError(t, err)

	r := res.(*sendTransactionResult)
	require.Equal(t, "ledger not updated", r.Warning)
	require.Equal(t, "-10", r.CashRegisterBalance.Satoshi)
	require.Equal(t, "-0.0000001", r.CashRegisterBalance.Bitcoin)
}

func TestGetBalanceEchoesSelector(t *testing.T) {
	t.Parallel()

	m, svc := newMockServices()
	m.On("GetBalance", mock.Anything, gateway.BalanceRequest{
		Type:      "btc",
		CRAccount: "alice",
		Address:   "1addr",
	}).Return(&gateway.Balance{
		Account:     &store.Account{Address: "1addr"},
		Confirmed:   499000,
		Unconfirmed: 2000,
		Final:       501000,
		Live:        true,
	}, nil)

	res, err := getBalance(context.Background(), svc, rawParams(t,
		`{"type":"btc","craccount":"alice","address":"1addr"}`))
	require.NoError(t, err)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	require.JSONEq(t, `{"craccount":"alice","type":"btc","balance":{
		"bitcoin_cnf":"0.00499","bitcoin_unc":"0.00002",
		"satoshi_cnf":"499000","satoshi_unc":"2000",
		"bitcoin":"0.00501"}}`, string(b))
}

func TestNewAccountPassesCRAccount(t *testing.T) {
	t.Parallel()

	m, svc := newMockServices()
	m.On("NewAccount", mock.Anything, gateway.NewAccountRequest{
		Type:      "btc",
		CRAccount: "bob",
	}).Return(&gateway.NewAccountResult{
		Account:     &store.Account{Address: "1bob"},
		Reactivated: true,
		Fee:         1000,
	}, nil)

	res, err := newAccount(context.Background(), svc, rawParams(t,
		`{"type":"btc","craccount":"bob"}`))
	require.NoError(t, err)

	r := res.(*newAccountResult)
	require.Equal(t, "1bob", r.Account)
	require.Equal(t, feeAmounts{Bitcoin: "0.00001", Satoshis: "1000"},
		r.Fees)
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind gateway.ErrorKind
		code btcjson.RPCErrorCode
	}{
		{gateway.ErrInvalidParams, btcjson.ErrRPCInvalidParams.Code},
		{gateway.ErrUnsupportedCurrency, btcjson.ErrRPCInvalidParams.Code},
		{gateway.ErrDatabase, ErrRPCDatabase},
		{gateway.ErrNoMatchingAccount, ErrRPCNoMatchingAccount},
		{gateway.ErrExternalAPI, ErrRPCExternalAPI},
		{gateway.ErrMalformedReport, ErrRPCExternalAPI},
		{gateway.ErrSigning, ErrRPCSigning},
		{gateway.ErrInsufficientFunds, ErrRPCInsufficientFunds},
		{gateway.ErrInsufficientCashRegisterFunds,
			ErrRPCInsufficientCashRegister},
		{gateway.ErrNoFundingSource, btcjson.ErrRPCInternal.Code},
		{gateway.ErrInternal, btcjson.ErrRPCInternal.Code},
	}

	for _, test := range tests {
		t.Run(test.kind.String(), func(t *testing.T) {
			t.Parallel()

			err := &gateway.Error{Kind: test.kind, Message: "msg"}
			rpcErr := jsonError(err)
			require.Equal(t, test.code, rpcErr.Code)
			require.Equal(t, "msg", rpcErr.Message)
			require.Nil(t, rpcErr.Data)
		})
	}
}

func TestJSONErrorData(t *testing.T) {
	t.Parallel()

	err := &gateway.Error{
		Kind:      gateway.ErrExternalAPI,
		Stage:     gateway.StageBroadcasting,
		RequestID: "req-9",
		Message:   "The transaction could not be broadcast.",
		Data:      json.RawMessage(`{"error":"rejected"}`),
		Err:       errors.New("txs/send: rejected"),
	}

	b, mErr := json.Marshal(jsonError(err))
	require.NoError(t, mErr)
	require.JSONEq(t, `{"code":-32003,`+
		`"message":"The transaction could not be broadcast.",`+
		`"data":{"stage":"Broadcasting","requestId":"req-9",`+
		`"upstream":{"error":"rejected"}}}`, string(b))

	rpcErr := jsonError(errors.New("boom"))
	require.Equal(t, btcjson.ErrRPCInternal.Code, rpcErr.Code)
	require.Nil(t, jsonError(nil))
}
