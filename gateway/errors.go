// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind identifies a kind of gateway error.
type ErrorKind int

// These constants are used to identify a specific Error.
const (
	// ErrInvalidParams indicates a request that failed validation before
	// any external call was made.
	ErrInvalidParams ErrorKind = iota

	// ErrUnsupportedCurrency indicates a currency type other than "btc".
	ErrUnsupportedCurrency

	// ErrDatabase indicates a failure of the relational store. The Err
	// field holds the underlying error.
	ErrDatabase

	// ErrNoMatchingAccount indicates that no account matches the
	// requested identifier or address.
	ErrNoMatchingAccount

	// ErrExternalAPI indicates a failed upstream call, including
	// timeouts and error bodies. Data holds the raw upstream payload.
	ErrExternalAPI

	// ErrMalformedReport indicates an upstream balance report that could
	// not be reconciled. Callers treat it like ErrExternalAPI.
	ErrMalformedReport

	// ErrSigning indicates that the skeleton could not be signed. Data
	// holds the skeleton.
	ErrSigning

	// ErrInsufficientFunds indicates that the user's ledger balance
	// cannot cover the withdrawal and the miner fee.
	ErrInsufficientFunds

	// ErrInsufficientCashRegisterFunds indicates that the funding source
	// cannot cover the withdrawal. The request needs manual processing.
	ErrInsufficientCashRegisterFunds

	// ErrNoFundingSource indicates that no funding source is configured
	// for the active network.
	ErrNoFundingSource

	// ErrInternal indicates a failure inside the gateway itself, such as
	// a cancelled request while waiting for the funding gate.
	ErrInternal
)

// Map of ErrorKind values back to their constant names for pretty printing.
var errorKindStrings = map[ErrorKind]string{
	ErrInvalidParams:                 "ErrInvalidParams",
	ErrUnsupportedCurrency:           "ErrUnsupportedCurrency",
	ErrDatabase:                      "ErrDatabase",
	ErrNoMatchingAccount:             "ErrNoMatchingAccount",
	ErrExternalAPI:                   "ErrExternalAPI",
	ErrMalformedReport:               "ErrMalformedReport",
	ErrSigning:                       "ErrSigning",
	ErrInsufficientFunds:             "ErrInsufficientFunds",
	ErrInsufficientCashRegisterFunds: "ErrInsufficientCashRegisterFunds",
	ErrNoFundingSource:               "ErrNoFundingSource",
	ErrInternal:                      "ErrInternal",
}

// String returns the ErrorKind as a human-readable name.
func (k ErrorKind) String() string {
	if s := errorKindStrings[k]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorKind (%d)", int(k))
}

// ErrNoFundingSourceConfigured is wrapped by every ErrNoFundingSource error.
var ErrNoFundingSourceConfigured = errors.New("no funding source configured")

// Error is the single error type returned by the gateway services. The
// message is safe to show to RPC clients, the wrapped error is meant for
// operators.
type Error struct {
	Kind ErrorKind

	// Stage is the pipeline stage that failed. It is empty outside the
	// withdrawal pipeline.
	Stage Stage

	// RequestID identifies the request in the logs.
	RequestID string

	// Message is a human readable description of the issue.
	Message string

	// Data is optional diagnostic data for the caller, such as a raw
	// upstream payload.
	Data any

	// Err is the underlying error.
	Err error
}

// Error satisfies the error interface and prints human-readable errors.
func (e *Error) Error() string {
	msg := e.Message
	if e.Stage != "" {
		msg = string(e.Stage) + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// gatewayError creates an Error given a set of arguments.
func gatewayError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// IsKind reports whether err is a gateway Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var gErr *Error
	return errors.As(err, &gErr) && gErr.Kind == kind
}
