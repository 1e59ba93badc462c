// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"context"

	"github.com/coinroster/cgsd/gateway"
	"github.com/stretchr/testify/mock"
)

type mockServices struct {
	mock.Mock
}

func (m *mockServices) NewAccount(ctx context.Context,
	req gateway.NewAccountRequest) (*gateway.NewAccountResult, error) {

	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.NewAccountResult)
	return res, args.Error(1)
}

func (m *mockServices) GetBalance(ctx context.Context,
	req gateway.BalanceRequest) (*gateway.Balance, error) {

	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.Balance)
	return res, args.Error(1)
}

func (m *mockServices) Withdraw(ctx context.Context,
	p *gateway.WithdrawalParams) (*gateway.WithdrawalResult, error) {

	args := m.Called(ctx, p)
	res, _ := args.Get(0).(*gateway.WithdrawalResult)
	return res, args.Error(1)
}

func newMockServices() (*mockServices, *Services) {
	m := &mockServices{}
	return m, &Services{Accounts: m, Balances: m, Withdrawals: m}
}
