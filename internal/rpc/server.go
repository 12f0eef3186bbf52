// Package rpc provides a JSON-RPC 2.0 Control API server over
// internal/noded, translating each method of spec.md's Control API
// surface into the matching noded event and blocking on its result
// channel for a synchronous response.
package rpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klingon-exchange/threshold-node/internal/corerr"
	"github.com/klingon-exchange/threshold-node/internal/noded"
	"github.com/klingon-exchange/threshold-node/pkg/logging"
)

// Server is a JSON-RPC 2.0 server fronting one node's event loop.
type Server struct {
	node *noded.Node
	log  *logging.Logger
	wsHub *WSHub

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Server-error codes the Control API maps each corerr.Kind onto, per
// spec.md §7's "stable mapping to RPC status codes". -32001..-32007
// sit in the JSON-RPC 2.0 spec's reserved "Server error" range
// (-32000 to -32099); KindInvalid reuses the standard InvalidParams
// code instead of a spare slot in that range since it already names
// exactly this case.
const (
	codeUnauthorized      = -32001
	codeInsufficientFunds = -32002
	codeProtocolViolation = -32003
	codeSessionAborted    = -32004
	codeOracleUnavailable = -32005
	codeStoreError        = -32006
	codeBusy              = -32007
)

// kindToCode maps each corerr.Kind to the JSON-RPC error code the
// Control API reports it under.
var kindToCode = map[corerr.Kind]int{
	corerr.KindInvalid:            InvalidParams,
	corerr.KindUnauthorized:       codeUnauthorized,
	corerr.KindInsufficientFunds:  codeInsufficientFunds,
	corerr.KindProtocolViolation:  codeProtocolViolation,
	corerr.KindSessionAborted:     codeSessionAborted,
	corerr.KindOracleUnavailable:  codeOracleUnavailable,
	corerr.KindStoreError:         codeStoreError,
	corerr.KindBusy:               codeBusy,
}

// rpcErrorCode returns the JSON-RPC code err's corerr.Kind maps to, or
// InternalError if err does not wrap a corerr.Error.
func rpcErrorCode(err error) int {
	kind, ok := corerr.KindOf(err)
	if !ok {
		return InternalError
	}
	code, ok := kindToCode[kind]
	if !ok {
		return InternalError
	}
	return code
}

// NewServer creates a Control API server bound to a running node.
func NewServer(n *noded.Node) *Server {
	s := &Server{
		node:     n,
		log:      logging.GetDefault().Component("rpc"),
		handlers: make(map[string]Handler),
	}
	s.registerHandlers()
	return s
}

// registerHandlers wires each of spec.md §6's 9 Control API methods.
func (s *Server) registerHandlers() {
	s.handlers["CreateDepositIntent"] = s.createDepositIntent
	s.handlers["GetPendingDepositIntents"] = s.getPendingDepositIntents
	s.handlers["ProposeWithdrawal"] = s.proposeWithdrawal
	s.handlers["ConfirmWithdrawal"] = s.confirmWithdrawal
	s.handlers["CheckBalance"] = s.checkBalance
	s.handlers["SpendFunds"] = s.spendFunds
	s.handlers["StartSigning"] = s.startSigning
	s.handlers["TriggerConsensusRound"] = s.triggerConsensusRound
	s.handlers["GetChainInfo"] = s.getChainInfo
}

// Start binds the HTTP listener and starts serving JSON-RPC requests
// plus the WebSocket event-push endpoint.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.wsHub = NewWSHub()
	go s.wsHub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)

	s.server = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("rpc server error", "error", err)
		}
	}()

	s.log.Info("control api started", "addr", addr, "ws", "ws://"+addr+"/ws")
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// WSHub returns the WebSocket event hub, for components (deposit and
// consensus handlers, via the node) that want to push state changes to
// subscribed clients.
func (s *Server) WSHub() *WSHub { return s.wsHub }

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "parse error", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "invalid request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.writeError(w, req.ID, rpcErrorCode(err), err.Error(), nil)
		return
	}
	s.writeResult(w, req.ID, result)
}

func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message, Data: data}, ID: id})
}

func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
