// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinroster/cgsd/gateway"
	"github.com/coinroster/cgsd/store"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// AccountProvisioner creates and reactivates deposit accounts.
type AccountProvisioner interface {
	NewAccount(ctx context.Context,
		req gateway.NewAccountRequest) (*gateway.NewAccountResult, error)
}

// BalanceReader answers balance queries.
type BalanceReader interface {
	GetBalance(ctx context.Context,
		req gateway.BalanceRequest) (*gateway.Balance, error)
}

// Withdrawer runs withdrawals.
type Withdrawer interface {
	Withdraw(ctx context.Context,
		p *gateway.WithdrawalParams) (*gateway.WithdrawalResult, error)
}

// Services are the gateway services the RPC handlers call into.
type Services struct {
	Accounts    AccountProvisioner
	Balances    BalanceReader
	Withdrawals Withdrawer
}

// call is a single decoded request handed to a handler.
type call struct {
	// id is the request id rendered as a string, empty when absent.
	id     string
	params map[string]json.RawMessage
}

type requestHandler func(context.Context, *Services, *call) (any, error)

var rpcHandlers = map[string]requestHandler{
	"newAccount":      newAccount,
	"getBalance":      getBalance,
	"sendTransaction": sendTransaction,
}

func decodeParams(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 || bytes.Equal(raw, nullID) {
		return nil, errNoParams
	}
	var params map[string]json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, newError(btcjson.ErrRPCInvalidParams.Code,
			"The \"params\" member must be an object.")
	}
	return params, nil
}

func paramMissing(name string) *RPCError {
	return newError(btcjson.ErrRPCInvalidParams.Code,
		fmt.Sprintf("Required parameter \"%s\" not found in request.",
			name))
}

func paramInvalid(name string) *RPCError {
	return newError(btcjson.ErrRPCInvalidParams.Code,
		fmt.Sprintf("Parameter \"%s\" is not valid.", name))
}

// present reports whether a param was sent with a non-null value.
func present(params map[string]json.RawMessage, name string) bool {
	v, ok := params[name]
	return ok && len(v) > 0 && !bytes.Equal(v, nullID)
}

// require checks that every named param is present.
func (c *call) require(names ...string) error {
	for _, name := range names {
		if !present(c.params, name) {
			return paramMissing(name)
		}
	}
	return nil
}

// str returns a string param, or the empty string when it is absent.
func (c *call) str(name string) (string, error) {
	if !present(c.params, name) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(c.params[name], &s); err != nil {
		return "", paramInvalid(name)
	}
	return s, nil
}

// numeric decodes a value sent either as a JSON string or a JSON number
// and returns its literal text.
func numeric(raw json.RawMessage) (string, bool) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String(), true
	}
	return "", false
}

type feeAmounts struct {
	Bitcoin  string `json:"bitcoin"`
	Satoshis string `json:"satoshis"`
}

type newAccountResult struct {
	Account string     `json:"account"`
	Fees    feeAmounts `json:"fees"`
}

// newAccount handles a newAccount request.
func newAccount(ctx context.Context, svc *Services, c *call) (any, error) {
	if err := c.require("type"); err != nil {
		return nil, err
	}
	typ, err := c.str("type")
	if err != nil {
		return nil, err
	}
	crAccount, err := c.str("craccount")
	if err != nil {
		return nil, err
	}

	res, err := svc.Accounts.NewAccount(ctx, gateway.NewAccountRequest{
		Type:      typ,
		CRAccount: crAccount,
	})
	if err != nil {
		return nil, err
	}

	return &newAccountResult{
		Account: res.Account.Address,
		Fees: feeAmounts{
			Bitcoin:  gateway.MajorUnits(res.Fee),
			Satoshis: satoshis(res.Fee),
		},
	}, nil
}

type balanceAmounts struct {
	BitcoinCnf string `json:"bitcoin_cnf"`
	BitcoinUnc string `json:"bitcoin_unc"`
	SatoshiCnf string `json:"satoshi_cnf"`
	SatoshiUnc string `json:"satoshi_unc"`
	Bitcoin    string `json:"bitcoin"`
}

type balanceResult struct {
	CRAccount string         `json:"craccount,omitempty"`
	Address   string         `json:"address,omitempty"`
	Type      string         `json:"type"`
	Balance   balanceAmounts `json:"balance"`
}

// getBalance handles a getBalance request. The result echoes the selector
// the caller used.
func getBalance(ctx context.Context, svc *Services, c *call) (any, error) {
	if err := c.require("type"); err != nil {
		return nil, err
	}
	typ, err := c.str("type")
	if err != nil {
		return nil, err
	}
	crAccount, err := c.str("craccount")
	if err != nil {
		return nil, err
	}
	address, err := c.str("address")
	if err != nil {
		return nil, err
	}

	bal, err := svc.Balances.GetBalance(ctx, gateway.BalanceRequest{
		Type:      typ,
		CRAccount: crAccount,
		Address:   address,
	})
	if err != nil {
		return nil, err
	}

	result := &balanceResult{
		Type: typ,
		Balance: balanceAmounts{
			BitcoinCnf: gateway.MajorUnits(bal.Confirmed),
			BitcoinUnc: gateway.MajorUnits(bal.Unconfirmed),
			SatoshiCnf: satoshis(bal.Confirmed),
			SatoshiUnc: satoshis(bal.Unconfirmed),
			Bitcoin:    gateway.MajorUnits(bal.Final),
		},
	}
	if crAccount != "" {
		result.CRAccount = crAccount
	} else {
		result.Address = address
	}
	return result, nil
}

type cashRegisterBalance struct {
	Satoshi string `json:"satoshi"`
	Bitcoin string `json:"bitcoin"`
}

type sendTransactionResult struct {
	Tx                  json.RawMessage     `json:"tx"`
	Hash                string              `json:"hash"`
	CashRegisterBalance cashRegisterBalance `json:"cashRegisterBalance"`
	Warning             string              `json:"warning,omitempty"`
}

// sendTransaction handles a sendTransaction request.
func sendTransaction(ctx context.Context, svc *Services,
	c *call) (any, error) {

	if err := c.require("toAddress", "type", "amount"); err != nil {
		return nil, err
	}

	p := &gateway.WithdrawalParams{RequestID: c.id}
	var err error
	if p.ToAddress, err = c.str("toAddress"); err != nil {
		return nil, err
	}
	if p.Type, err = c.str("type"); err != nil {
		return nil, err
	}
	if p.CRAccount, err = c.str("craccount"); err != nil {
		return nil, err
	}
	if p.FromAddress, err = c.str("fromAddress"); err != nil {
		return nil, err
	}

	var amount map[string]json.RawMessage
	if err := json.Unmarshal(c.params["amount"], &amount); err != nil {
		return nil, paramInvalid("amount")
	}
	if !present(amount, "satoshi") {
		return nil, paramMissing("amount.satoshi")
	}
	var ok bool
	if p.Amount, ok = numeric(amount["satoshi"]); !ok {
		return nil, paramInvalid("amount.satoshi")
	}

	if present(c.params, "fee") {
		fee, ok := numeric(c.params["fee"])
		if !ok {
			return nil, paramInvalid("fee")
		}
		p.Fee = fn.Some(fee)
	}

	if present(c.params, "keys") {
		var keys store.Keys
		if err := json.Unmarshal(c.params["keys"], &keys); err != nil {
			return nil, paramInvalid("keys")
		}
		p.Keys = fn.Some(keys)
	}

	res, err := svc.Withdrawals.Withdraw(ctx, p)
	if err != nil {
		return nil, err
	}
	if res.Warning != "" {
		log.Warnf("Withdrawal %s: %s", res.RequestID, res.Warning)
	}

	return &sendTransactionResult{
		Tx:   res.Tx,
		Hash: res.Hash,
		CashRegisterBalance: cashRegisterBalance{
			Satoshi: satoshis(res.CashRegisterBalance),
			Bitcoin: gateway.MajorUnits(res.CashRegisterBalance),
		},
		Warning: res.Warning,
	}, nil
}

func satoshis(a btcutil.Amount) string {
	return strconv.FormatInt(int64(a), 10)
}
