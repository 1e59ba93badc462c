// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinroster/cgsd/blockcypher"
	"github.com/coinroster/cgsd/netparams"
	"github.com/coinroster/cgsd/reconcile"
	"github.com/coinroster/cgsd/store"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Stage is a state of the withdrawal pipeline.
type Stage string

const (
	StageValidating       Stage = "Validating"
	StageResolvingFee     Stage = "ResolvingFee"
	StageSelectingFunding Stage = "SelectingFunding"
	StageVerifyingFunds   Stage = "VerifyingFunds"
	StageBuildingSkeleton Stage = "BuildingSkeleton"
	StageSigning          Stage = "Signing"
	StageBroadcasting     Stage = "Broadcasting"
	StageUpdatingLedger   Stage = "UpdatingLedger"
	StageDone             Stage = "Done"
)

// Withdrawal outcomes reported to WithdrawalConfig.Observe. Failures are
// reported as the ErrorKind name.
const (
	OutcomeSuccess = "success"
	OutcomeWarning = "warning"
)

// ledgerTimeout bounds the post broadcast ledger update, which runs even
// when the request context is done.
const ledgerTimeout = 30 * time.Second

// WithdrawalParams is an unvalidated sendTransaction request.
type WithdrawalParams struct {
	// RequestID identifies the request in logs. A random id is used when
	// empty.
	RequestID string

	Type        string
	CRAccount   string
	FromAddress string
	ToAddress   string

	// Amount is the amount in satoshis, as a decimal integer string.
	Amount string

	// Fee is the optional miner fee override in satoshis.
	Fee fn.Option[string]

	// Keys is the optional caller supplied key material.
	Keys fn.Option[store.Keys]
}

// WithdrawalRequest is a validated withdrawal. It is never modified after
// validation.
type WithdrawalRequest struct {
	RequestID   string
	CRAccount   fn.Option[string]
	FromAddress fn.Option[string]
	Destination btcutil.Address
	Amount      btcutil.Amount
	FeeOverride fn.Option[string]
	KeyOverride fn.Option[store.KeyBundle]
}

// WithdrawalResult describes a broadcast withdrawal.
type WithdrawalResult struct {
	RequestID string
	Hash      string

	// Tx is the network's transaction object, verbatim.
	Tx json.RawMessage

	Amount btcutil.Amount
	Fee    btcutil.Amount

	// FundingSource is the cash register address that paid.
	FundingSource string

	// CashRegisterBalance is the funding source's final balance less the
	// amount and fee of this withdrawal.
	CashRegisterBalance btcutil.Amount

	// Warning is set when the broadcast succeeded but the ledger could
	// not be updated.
	Warning string
}

// WithdrawalConfig holds the collaborators of an Orchestrator.
type WithdrawalConfig struct {
	Params   *netparams.Params
	Accounts store.AccountStore
	Control  store.ControlStore
	Funding  *FundingRegistry
	API      BalanceSource

	Builder     TransactionBuilder
	Signer      TransactionSigner
	Broadcaster TransactionBroadcaster
	Gate        Gate
	Clock       clock.Clock

	// DefaultFee is used when no valid fee override exists.
	DefaultFee btcutil.Amount

	// BalanceCheckInterval is the minimum time between two live checks
	// of a user account.
	BalanceCheckInterval time.Duration

	// Observe, if set, is called once per finished withdrawal.
	Observe func(outcome string)
}

// Orchestrator runs the withdrawal pipeline.
type Orchestrator struct {
	cfg WithdrawalConfig
}

// NewOrchestrator returns an Orchestrator. A nil gate selects a LocalGate
// and a nil clock the system clock.
func NewOrchestrator(cfg WithdrawalConfig) *Orchestrator {
	if cfg.Gate == nil {
		cfg.Gate = NewLocalGate()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &Orchestrator{cfg: cfg}
}

// ValidateWithdrawal checks a raw request and returns its immutable form.
// No external call is made.
func ValidateWithdrawal(p *WithdrawalParams,
	params *netparams.Params) (*WithdrawalRequest, error) {

	if p.Type != CurrencyBTC {
		return nil, unsupportedCurrency(p.Type)
	}
	if p.ToAddress == "" {
		return nil, invalidParams("Destination address is required.",
			nil)
	}
	dest, err := decodeAddress(p.ToAddress, params)
	if err != nil {
		return nil, invalidParams("Invalid destination address.", err)
	}

	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, invalidParams("Invalid withdrawal amount.", err)
	}

	if p.CRAccount == "" && p.FromAddress == "" {
		return nil, invalidParams(
			"Either craccount or fromAddress is required.", nil)
	}

	var keyOverride fn.Option[store.KeyBundle]
	if p.Keys.IsSome() {
		bundle, found := p.Keys.UnsafeFromSome()[CurrencyBTC]
		if !found {
			return nil, invalidParams(
				"Key override has no btc entry.", nil)
		}
		wif, err := btcutil.DecodeWIF(bundle.WIF)
		if err != nil {
			return nil, invalidParams("Invalid key override.", err)
		}
		if !wif.IsForNet(params.Params) {
			return nil, invalidParams(
				"Key override is for another network.", nil)
		}
		keyOverride = fn.Some(bundle)
	}

	id := p.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	req := &WithdrawalRequest{
		RequestID:   id,
		Destination: dest,
		Amount:      amount,
		FeeOverride: p.Fee,
		KeyOverride: keyOverride,
	}
	if p.CRAccount != "" {
		req.CRAccount = fn.Some(p.CRAccount)
	} else {
		req.FromAddress = fn.Some(p.FromAddress)
	}
	return req, nil
}

func invalidParams(msg string, err error) *Error {
	return gatewayError(ErrInvalidParams, msg, err)
}

func parseAmount(s string) (btcutil.Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("amount is required")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%q is not a whole number of satoshis", s)
	case n <= 0:
		return 0, fmt.Errorf("%q is not positive", s)
	case n > btcutil.MaxSatoshi:
		return 0, fmt.Errorf("%q exceeds the supply", s)
	}
	return btcutil.Amount(n), nil
}

// withdrawal is the state of one pipeline run.
type withdrawal struct {
	o     *Orchestrator
	req   *WithdrawalRequest
	stage Stage
}

func (w *withdrawal) enter(stage Stage) {
	w.stage = stage
	log.Debugf("Withdrawal %s: %s", w.req.RequestID, stage)
}

// fail stamps err with the current stage and request id.
func (w *withdrawal) fail(err error) error {
	var gErr *Error
	if !errors.As(err, &gErr) {
		gErr = &Error{Kind: ErrInternal, Message: "Internal error.",
			Err: err}
	}
	if gErr.Stage == "" {
		gErr.Stage = w.stage
	}
	gErr.RequestID = w.req.RequestID

	switch gErr.Kind {
	case ErrInsufficientCashRegisterFunds:
		log.Warnf("Withdrawal %s needs manual processing: %v",
			w.req.RequestID, gErr)
	case ErrInvalidParams, ErrUnsupportedCurrency, ErrNoMatchingAccount,
		ErrInsufficientFunds:

		log.Infof("Withdrawal %s rejected: %v", w.req.RequestID, gErr)
	default:
		log.Errorf("Withdrawal %s failed: %v", w.req.RequestID, gErr)
	}

	w.o.observe(gErr.Kind.String())
	return gErr
}

func (o *Orchestrator) observe(outcome string) {
	if o.cfg.Observe != nil {
		o.cfg.Observe(outcome)
	}
}

// Withdraw validates p and runs the pipeline to completion or to the first
// failure. Once the broadcast succeeded the withdrawal is reported as a
// success; later problems only set WithdrawalResult.Warning.
func (o *Orchestrator) Withdraw(ctx context.Context,
	p *WithdrawalParams) (*WithdrawalResult, error) {

	req, err := ValidateWithdrawal(p, o.cfg.Params)
	if err != nil {
		outcome := ErrInvalidParams.String()
		var gErr *Error
		if errors.As(err, &gErr) {
			gErr.Stage = StageValidating
			gErr.RequestID = p.RequestID
			outcome = gErr.Kind.String()
		}
		log.Infof("Withdrawal %s rejected: %v", p.RequestID, err)
		o.observe(outcome)
		return nil, err
	}

	return o.run(ctx, req)
}

func (o *Orchestrator) run(ctx context.Context,
	req *WithdrawalRequest) (*WithdrawalResult, error) {

	w := &withdrawal{o: o, req: req}

	w.enter(StageValidating)
	crAccount := req.CRAccount.UnwrapOr("")
	fromAddress := req.FromAddress.UnwrapOr("")
	if _, err := lookupAccount(ctx, o.cfg.Accounts, crAccount,
		fromAddress); err != nil {

		return nil, w.fail(err)
	}
	req.KeyOverride.WhenSome(func(store.KeyBundle) {
		log.Debugf("Withdrawal %s: ignoring key override, withdrawals "+
			"are paid by the cash register", req.RequestID)
	})

	w.enter(StageResolvingFee)
	fee := o.resolveFee(ctx, req)

	w.enter(StageSelectingFunding)
	source, err := o.cfg.Funding.SelectFundingSource(o.cfg.Params.FundingTag)
	if err != nil {
		return nil, w.fail(err)
	}

	release, err := o.cfg.Gate.Acquire(ctx, source.Address)
	if err != nil {
		return nil, w.fail(gatewayError(ErrInternal,
			"Request ended while waiting for the cash register.", err))
	}
	defer release()

	w.enter(StageVerifyingFunds)
	acct, err := lookupAccount(ctx, o.cfg.Accounts, crAccount, fromAddress)
	if err != nil {
		return nil, w.fail(err)
	}
	if err := o.verifyUserFunds(ctx, acct, req.Amount+fee); err != nil {
		return nil, w.fail(err)
	}
	register, err := o.verifyCashRegister(ctx, source, req.Amount)
	if err != nil {
		return nil, w.fail(err)
	}

	w.enter(StageBuildingSkeleton)
	skel, err := o.cfg.Builder.BuildSkeleton(ctx, source.Address,
		req.Destination, req.Amount, fee)
	if err != nil {
		return nil, w.fail(&Error{
			Kind:    ErrExternalAPI,
			Message: "Unable to create the transaction.",
			Data:    upstreamPayload(err),
			Err:     err,
		})
	}

	w.enter(StageSigning)
	signed, err := o.cfg.Signer.Sign(skel, source.WIF)
	if err != nil {
		return nil, w.fail(&Error{
			Kind:    ErrSigning,
			Message: "Unable to sign the transaction.",
			Data:    skel,
			Err:     err,
		})
	}

	w.enter(StageBroadcasting)
	sent, err := o.cfg.Broadcaster.Broadcast(ctx, signed)
	if err != nil {
		return nil, w.fail(&Error{
			Kind:    ErrExternalAPI,
			Message: "Unable to send the transaction.",
			Data:    upstreamPayload(err),
			Err:     err,
		})
	}
	log.Infof("Withdrawal %s: broadcast %v to %s from %s, tx %s",
		req.RequestID, req.Amount, req.Destination, source.Address,
		sent.Hash)

	result := &WithdrawalResult{
		RequestID:           req.RequestID,
		Hash:                sent.Hash,
		Tx:                  sent.Tx,
		Amount:              req.Amount,
		Fee:                 fee,
		FundingSource:       source.Address,
		CashRegisterBalance: register.Final - req.Amount - fee,
	}

	// Nothing below may fail the withdrawal.
	w.enter(StageUpdatingLedger)
	ledgerCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), ledgerTimeout,
	)
	defer cancel()
	err = o.cfg.Accounts.RecordWithdrawal(ledgerCtx, store.WithdrawalParams{
		AccountID: acct.ID,
		Debit:     req.Amount + fee,
		At:        o.cfg.Clock.Now(),
	})
	if err != nil {
		log.Warnf("Withdrawal %s: tx %s was broadcast but the ledger of "+
			"account %d was not updated: %v", req.RequestID, sent.Hash,
			acct.ID, err)
		result.Warning = fmt.Sprintf("Transaction %s was broadcast but "+
			"the account balance could not be updated.", sent.Hash)
		w.enter(StageDone)
		o.observe(OutcomeWarning)
		return result, nil
	}

	w.enter(StageDone)
	o.observe(OutcomeSuccess)
	return result, nil
}

// resolveFee reads the persisted override and resolves the fee. Problems are
// logged, never returned.
func (o *Orchestrator) resolveFee(ctx context.Context,
	req *WithdrawalRequest) btcutil.Amount {

	persisted, err := o.cfg.Control.MinerFee(ctx)
	if err != nil {
		log.Warnf("Withdrawal %s: unable to read miner fee: %v",
			req.RequestID, err)
		persisted = fn.None[string]()
	}

	fee := ResolveFee(req.FeeOverride, persisted, o.cfg.DefaultFee)
	for _, p := range fee.Problems {
		log.Warnf("Withdrawal %s: %s", req.RequestID, p)
	}
	log.Debugf("Withdrawal %s: fee %v from %s", req.RequestID, fee.Amount,
		fee.Source)

	return fee.Amount
}

// verifyUserFunds checks that the user's spendable balance covers need,
// refreshing it live first when it falls short.
func (o *Orchestrator) verifyUserFunds(ctx context.Context,
	acct *store.Account, need btcutil.Amount) error {

	if acct.Confirmed == 0 || acct.Spendable() < need {
		now := o.cfg.Clock.Now()
		if acct.Confirmed == 0 ||
			liveCheckDue(acct, now, o.cfg.BalanceCheckInterval) {

			_, err := refreshAccount(ctx, o.cfg.Accounts, o.cfg.API,
				acct, now)
			if err != nil {
				return err
			}
		}
	}

	switch {
	case acct.Confirmed == 0:
		return gatewayError(ErrInsufficientFunds,
			"Confirmed BTC balance is 0.", nil)
	case acct.Spendable() < need:
		return gatewayError(ErrInsufficientFunds, fmt.Sprintf(
			"Spendable balance of %v does not cover %v.",
			acct.Spendable(), need), nil)
	}
	return nil
}

// verifyCashRegister checks the funding source live and compares its final
// balance with the amount.
func (o *Orchestrator) verifyCashRegister(ctx context.Context,
	source FundingSource, amount btcutil.Amount) (*reconcile.Report, error) {

	report, err := liveReport(ctx, o.cfg.API, source.Address)
	if err != nil {
		return nil, err
	}
	if amount > report.Final {
		return nil, &Error{
			Kind: ErrInsufficientCashRegisterFunds,
			Message: "Insufficient funds in the cash register; the " +
				"withdrawal needs manual processing.",
			Err: fmt.Errorf("cash register %s holds %v, %v requested",
				source.Address, report.Final, amount),
		}
	}
	return report, nil
}

// ErrorStage returns the failed stage of err, or the empty stage.
func ErrorStage(err error) Stage {
	var gErr *Error
	if errors.As(err, &gErr) {
		return gErr.Stage
	}
	return ""
}

var _ TransactionSigner = (*KeySigner)(nil)
var _ TransactionBuilder = (*SkeletonBuilder)(nil)
var _ TransactionBroadcaster = (*Publisher)(nil)
var _ Upstream = (*blockcypher.Client)(nil)
