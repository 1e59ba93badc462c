// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"golang.org/x/sync/errgroup"
)

// maxRequestSize is the largest accepted request body.
const maxRequestSize = 1024 * 1024 * 4

// ErrNoAuth is returned by checkAuthHeader when no Authorization header is
// present.
var ErrNoAuth = errors.New("no auth")

// Server holds the items the RPC server may need to access (auth,
// config, shutdown, etc.)
type Server struct {
	httpServer http.Server
	services   *Services

	listeners []net.Listener
	authsha   [sha256.Size]byte
	auth      bool

	maxPostClients int64
	maxBatch       int

	wg      sync.WaitGroup
	quit    chan struct{}
	quitMtx sync.Mutex
}

// jsonAuthFail sends a message back to the client if the http auth is rejected.
func jsonAuthFail(w http.ResponseWriter) {
	w.Header().Add("WWW-Authenticate", `Basic realm="cgsd RPC"`)
	http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
}

// NewServer creates a new server serving JSON-RPC 2.0 over HTTP POST on the
// given listeners. Start must be called to begin serving.
func NewServer(opts *Options, services *Services,
	listeners []net.Listener) *Server {

	serveMux := http.NewServeMux()
	const rpcAuthTimeoutSeconds = 10

	maxBatch := opts.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}

	server := &Server{
		httpServer: http.Server{
			Handler: serveMux,

			// Timeout connections which don't complete the initial
			// handshake within the allowed timeframe.
			ReadHeaderTimeout: time.Second * rpcAuthTimeoutSeconds,
		},
		services:       services,
		maxPostClients: opts.MaxPOSTClients,
		maxBatch:       maxBatch,
		listeners:      listeners,
		auth:           opts.Username != "" || opts.Password != "",
		// A hash of the HTTP basic auth string is used for a constant
		// time comparison.
		authsha: sha256.Sum256(httpBasicAuth(opts.Username, opts.Password)),
		quit:    make(chan struct{}),
	}

	serveMux.Handle("/", throttledFn(opts.MaxPOSTClients,
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Access-Control-Allow-Origin", "*")

			if r.Method != http.MethodPost {
				w.Header().Set("Allow", http.MethodPost)
				http.Error(w, "405 Method Not Allowed.",
					http.StatusMethodNotAllowed)
				return
			}

			if server.auth {
				if err := server.checkAuthHeader(r); err != nil {
					log.Warnf("Unauthorized client connection "+
						"attempt from %s", r.RemoteAddr)
					jsonAuthFail(w)
					return
				}
			}

			server.wg.Add(1)
			server.PostClientRPC(w, r)
			server.wg.Done()
		}))

	return server
}

// httpBasicAuth returns the UTF-8 bytes of the HTTP Basic authentication
// string:
//
//	"Basic " + base64(username + ":" + password)
func httpBasicAuth(username, password string) []byte {
	const header = "Basic "
	base64 := base64.StdEncoding

	b64InputLen := len(username) + len(":") + len(password)
	b64Input := make([]byte, 0, b64InputLen)
	b64Input = append(b64Input, username...)
	b64Input = append(b64Input, ':')
	b64Input = append(b64Input, password...)

	output := make([]byte, len(header)+base64.EncodedLen(b64InputLen))
	copy(output, header)
	base64.Encode(output[len(header):], b64Input)
	return output
}

// Start begins serving on every listener.
func (s *Server) Start() {
	for _, lis := range s.listeners {
		s.serve(lis)
	}
}

// serve serves HTTP POST clients on the listener lis.
func (s *Server) serve(lis net.Listener) {
	s.wg.Add(1)
	go func() {
		log.Infof("Listening on %s", lis.Addr())
		err := s.httpServer.Serve(lis)
		log.Tracef("Finished serving RPC: %v", err)
		s.wg.Done()
	}()
}

// Stop gracefully shuts down the rpc server by stopping and disconnecting
// all clients and waiting for in-flight requests to finish.
func (s *Server) Stop() {
	s.quitMtx.Lock()
	select {
	case <-s.quit:
		s.quitMtx.Unlock()
		return
	default:
	}

	// Stop accepting and let in-flight requests finish. Shutdown closes
	// the listeners.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Errorf("Cannot shut down RPC server: %v", err)
	}

	close(s.quit)
	s.quitMtx.Unlock()

	// Wait for all remaining goroutines to exit.
	s.wg.Wait()
}

// checkAuthHeader checks the HTTP Basic authentication supplied by a client
// in the HTTP request r.
//
// The authentication comparison is time constant.
func (s *Server) checkAuthHeader(r *http.Request) error {
	authhdr := r.Header["Authorization"]
	if len(authhdr) == 0 {
		return ErrNoAuth
	}

	authsha := sha256.Sum256([]byte(authhdr[0]))
	cmp := subtle.ConstantTimeCompare(authsha[:], s.authsha[:])
	if cmp != 1 {
		return errors.New("bad auth")
	}
	return nil
}

// throttledFn wraps an http.HandlerFunc with throttling of concurrent active
// clients by responding with an HTTP 429 when the threshold is crossed.
func throttledFn(threshold int64, f http.HandlerFunc) http.Handler {
	return throttled(threshold, f)
}

// throttled wraps an http.Handler with throttling of concurrent active
// clients by responding with an HTTP 429 when the threshold is crossed.
func throttled(threshold int64, h http.Handler) http.Handler {
	var active int64

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt64(&active, 1)
		defer atomic.AddInt64(&active, -1)

		if current-1 >= threshold {
			log.Warnf("Reached threshold of %d concurrent active clients", threshold)
			http.Error(w, "429 Too Many Requests", 429)
			return
		}

		h.ServeHTTP(w, r)
	})
}

// response is a JSON-RPC 2.0 response object.
type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

var nullID = json.RawMessage("null")

func newResponse(id json.RawMessage, result any, err *RPCError) *response {
	if len(id) == 0 {
		id = nullID
	}
	return &response{Jsonrpc: "2.0", Result: result, Error: err, ID: id}
}

// PostClientRPC handles a single or batched JSON-RPC request posted by a
// client.
func (s *Server) PostClientRPC(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxRequestSize)
	rpcRequest, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "413 Request Too Large.",
			http.StatusRequestEntityTooLarge)
		return
	}

	result := s.process(r.Context(), rpcRequest)

	mresp, err := json.Marshal(result)
	if err != nil {
		log.Errorf("Unable to marshal response: %v", err)
		http.Error(w, "500 Internal Server Error",
			http.StatusInternalServerError)
		return
	}
	_, err = w.Write(mresp)
	if err != nil {
		log.Warnf("Unable to respond to client: %v", err)
	}
}

// process answers a raw request body with a single response or, for a
// batch, with the responses of every entry in request order.
func (s *Server) process(ctx context.Context, body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return newResponse(nil, nil, errParse)
	}
	if trimmed[0] != '[' {
		return s.handle(ctx, trimmed)
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return newResponse(nil, nil, errParse)
	}
	switch {
	case len(batch) == 0:
		return newResponse(nil, nil, errEmptyBatch)
	case len(batch) > s.maxBatch:
		return newResponse(nil, nil, newError(
			btcjson.ErrRPCInternal.Code,
			fmt.Sprintf("No more than %d batched methods allowed. "+
				"Request had %d methods.", s.maxBatch, len(batch)),
		))
	}

	// Each entry resolves independently; a failed entry only sets its
	// own error.
	responses := make([]*response, len(batch))
	var g errgroup.Group
	for i, raw := range batch {
		g.Go(func() error {
			responses[i] = s.handle(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()

	return responses
}

// rawRequest is a decoded request object. Members are kept raw so that
// absent, null and mistyped values can be told apart.
type rawRequest struct {
	Jsonrpc json.RawMessage `json:"jsonrpc"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// handle runs one request object. A panicking handler answers with an
// internal error for its own entry only.
func (s *Server) handle(ctx context.Context,
	raw json.RawMessage) (resp *response) {

	var req rawRequest
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic serving request %s: %v",
				requestID(req.ID), r)
			resp = newResponse(req.ID, nil, errInternalPanic)
		}
	}()

	if err := json.Unmarshal(raw, &req); err != nil {
		return newResponse(nil, nil, errNoVersion)
	}

	var version string
	if json.Unmarshal(req.Jsonrpc, &version) != nil || version != "2.0" {
		return newResponse(req.ID, nil, errNoVersion)
	}

	switch {
	case len(req.Method) == 0:
		return newResponse(req.ID, nil, errNoMethod)
	case bytes.Equal(req.Method, nullID):
		return newResponse(req.ID, nil, errNullMethod)
	}
	var method string
	if err := json.Unmarshal(req.Method, &method); err != nil {
		return newResponse(req.ID, nil, errNoMethod)
	}
	if strings.HasPrefix(strings.ReplaceAll(method, " ", ""), "rpc:") {
		return newResponse(req.ID, nil, errSystemExtension)
	}

	handler, ok := rpcHandlers[method]
	if !ok {
		return newResponse(req.ID, nil, newError(
			btcjson.ErrRPCMethodNotFound.Code,
			fmt.Sprintf("Method \"%s\" not yet implemented.", method),
		))
	}

	log.Debugf("Received %s request", method)
	params, err := decodeParams(req.Params)
	if err != nil {
		return newResponse(req.ID, nil, jsonError(err))
	}

	result, err := handler(ctx, s.services, &call{
		id:     requestID(req.ID),
		params: params,
	})
	if err != nil {
		return newResponse(req.ID, nil, jsonError(err))
	}
	return newResponse(req.ID, result, nil)
}

// requestID renders a request id for logs.
func requestID(id json.RawMessage) string {
	if len(id) == 0 || bytes.Equal(id, nullID) {
		return ""
	}
	var s string
	if json.Unmarshal(id, &s) == nil {
		return s
	}
	return string(id)
}
