// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"errors"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/coinroster/cgsd/gateway"
)

// Gateway specific error codes, in the implementation defined server error
// range.
const (
	ErrRPCDatabase                 btcjson.RPCErrorCode = -32001
	ErrRPCNoMatchingAccount        btcjson.RPCErrorCode = -32002
	ErrRPCExternalAPI              btcjson.RPCErrorCode = -32003
	ErrRPCInsufficientFunds        btcjson.RPCErrorCode = -32004
	ErrRPCInsufficientCashRegister btcjson.RPCErrorCode = -32005
	ErrRPCSigning                  btcjson.RPCErrorCode = -32006
)

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    btcjson.RPCErrorCode `json:"code"`
	Message string               `json:"message"`
	Data    any                  `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return e.Message
}

func newError(code btcjson.RPCErrorCode, msg string) *RPCError {
	return &RPCError{Code: code, Message: msg}
}

// Errors variables that are defined once here to avoid duplication below.
var (
	errParse = newError(btcjson.ErrRPCParse.Code,
		"JSON-RPC data could not be parsed.")

	errNoVersion = newError(btcjson.ErrRPCInvalidRequest.Code,
		"Not a valid JSON-RPC 2.0 request. Request object must "+
			"contain \"jsonrpc\":\"2.0\".")

	errNoMethod = newError(btcjson.ErrRPCInvalidRequest.Code,
		"Not a valid JSON-RPC 2.0 request. Request object must "+
			"include a \"method\" endpoint.")

	errNullMethod = newError(btcjson.ErrRPCInvalidRequest.Code,
		"Not a valid JSON-RPC 2.0 request. The \"method\" endpoint "+
			"must not be Null.")

	errSystemExtension = newError(btcjson.ErrRPCInvalidRequest.Code,
		"System extensions (\"rpc:\" methods) are not currently "+
			"supported.")

	errEmptyBatch = newError(btcjson.ErrRPCInvalidRequest.Code,
		"Not a valid JSON-RPC 2.0 request. A batch must not be empty.")

	errNoParams = newError(btcjson.ErrRPCInvalidParams.Code,
		"Required \"params\" not found in request.")

	errInternalPanic = newError(btcjson.ErrRPCInternal.Code,
		"Internal error while processing the request.")
)

// errorData is the data member of errors raised inside the gateway.
type errorData struct {
	Stage     string `json:"stage,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Upstream  any    `json:"upstream,omitempty"`
}

// jsonError maps an error returned by a handler to its JSON-RPC error. The
// mapping from gateway error kinds to codes lives here only.
func jsonError(err error) *RPCError {
	if err == nil {
		return nil
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var gErr *gateway.Error
	if !errors.As(err, &gErr) {
		log.Errorf("Unclassified handler error: %v", err)
		return newError(btcjson.ErrRPCInternal.Code,
			"There was a fatal error while processing the request.")
	}

	var code btcjson.RPCErrorCode
	switch gErr.Kind {
	case gateway.ErrInvalidParams, gateway.ErrUnsupportedCurrency:
		code = btcjson.ErrRPCInvalidParams.Code
	case gateway.ErrDatabase:
		code = ErrRPCDatabase
	case gateway.ErrNoMatchingAccount:
		code = ErrRPCNoMatchingAccount
	case gateway.ErrExternalAPI, gateway.ErrMalformedReport:
		code = ErrRPCExternalAPI
	case gateway.ErrSigning:
		code = ErrRPCSigning
	case gateway.ErrInsufficientFunds:
		code = ErrRPCInsufficientFunds
	case gateway.ErrInsufficientCashRegisterFunds:
		code = ErrRPCInsufficientCashRegister
	default:
		code = btcjson.ErrRPCInternal.Code
	}

	rpcErr = newError(code, gErr.Message)
	if gErr.Stage != "" || gErr.Data != nil {
		rpcErr.Data = &errorData{
			Stage:     string(gErr.Stage),
			RequestID: gErr.RequestID,
			Upstream:  gErr.Data,
		}
	}
	return rpcErr
}
