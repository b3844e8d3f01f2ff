// Package rpcserver implements the HTTP transport (spec.md §6):
// JSON-RPC `POST /rpc/{tenant}` plus the management surface for
// blockchain and program provisioning, routed with go-chi, matching the
// teacher's `RPCError{Code, Message}` envelope shape.
package rpcserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/web3-fighter/svm-mock-engine/internal/auth"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
	"github.com/web3-fighter/svm-mock-engine/internal/upstream"
	"github.com/web3-fighter/svm-mock-engine/internal/wsserver"
)

// RPCError mirrors the teacher's envelope (service/svmbase/types.go).
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Request is a single JSON-RPC 2.0 request body.
type Request struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a single JSON-RPC 2.0 response body.
type Response struct {
	Jsonrpc string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Error   *RPCError   `json:"error,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// MethodFunc handles one JSON-RPC method's params and returns a result or
// an RPCError.
type MethodFunc func(r *http.Request, t tenant.ID, params json.RawMessage) (interface{}, *RPCError)

// Server dispatches JSON-RPC methods and the management endpoints.
type Server struct {
	methods   map[string]MethodFunc
	mgmt      ManagementHandlers
	authStore auth.TenantLookup
	ws        *wsserver.Server // nil disables the GET /rpc/{tenant} websocket upgrade
	upstream  *upstream.Client // nil means no upstream RPC fallback configured
}

// ManagementHandlers backs the non-JSON-RPC blockchain/program lifecycle
// routes (spec.md §6 "Management surface").
type ManagementHandlers struct {
	CreateBlockchain http.HandlerFunc
	ListBlockchains  http.HandlerFunc
	DeleteAll        http.HandlerFunc
	DeleteOne        http.HandlerFunc
	UploadProgram    http.HandlerFunc
}

func New(methods map[string]MethodFunc, mgmt ManagementHandlers, authStore auth.TenantLookup, ws *wsserver.Server, up *upstream.Client) *Server {
	return &Server{methods: methods, mgmt: mgmt, authStore: authStore, ws: ws, upstream: up}
}

// Router builds the chi mux: tenant-scoped JSON-RPC, the websocket
// subscription upgrade and management routes, all behind api_key
// authentication.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Post("/rpc/{tenant}", s.handleRPC)
	if s.ws != nil {
		r.Get("/rpc/{tenant}", s.handleWS)
	}
	r.Post("/blockchains", s.mgmt.CreateBlockchain)
	r.Get("/blockchains", s.mgmt.ListBlockchains)
	r.Delete("/blockchains", s.mgmt.DeleteAll)
	r.Delete("/blockchains/{tenant}", s.mgmt.DeleteOne)
	r.Post("/programs/{tenant}", s.mgmt.UploadProgram)

	return r
}

// handleWS authenticates the tenant the same way handleRPC does, then
// hands the connection to wsserver for the subscription protocol.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	t, err := tenant.Parse(chi.URLParam(r, "tenant"))
	if err != nil {
		writeHTTPError(w, http.StatusNotFound, "unknown blockchain")
		return
	}
	if err := auth.Authorize(r.Context(), s.authStore, r.Header.Get("api_key"), t); err != nil {
		writeHTTPError(w, http.StatusUnauthorized, err.Error())
		return
	}
	s.ws.ServeTenant(w, r, t)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	t, err := tenant.Parse(chi.URLParam(r, "tenant"))
	if err != nil {
		writeHTTPError(w, http.StatusNotFound, "unknown blockchain")
		return
	}
	if err := auth.Authorize(r.Context(), s.authStore, r.Header.Get("api_key"), t); err != nil {
		writeHTTPError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeHTTPError(w, http.StatusBadRequest, "malformed JSON-RPC request")
		return
	}

	fn, ok := s.methods[req.Method]
	if !ok {
		s.handleUpstreamFallback(w, req)
		return
	}

	result, rpcErr := fn(r, t, req.Params)
	s.writeResponse(w, req.ID, result, rpcErr)
}

// handleUpstreamFallback forwards a method this engine doesn't implement
// itself to the configured upstream node (SPEC_FULL.md §3), so only a
// method unknown to both this engine and a real cluster surfaces as
// "Method not found".
func (s *Server) handleUpstreamFallback(w http.ResponseWriter, req Request) {
	if s.upstream == nil {
		s.writeResponse(w, req.ID, nil, &RPCError{Code: -32601, Message: "Method not found"})
		return
	}
	result, err := s.upstream.Call(context.Background(), req.Method, req.Params)
	if err != nil {
		s.writeResponse(w, req.ID, nil, &RPCError{Code: -32601, Message: "Method not found"})
		return
	}
	s.writeResponse(w, req.ID, json.RawMessage(result), nil)
}

func (s *Server) writeResponse(w http.ResponseWriter, id interface{}, result interface{}, rpcErr *RPCError) {
	w.Header().Set("Content-Type", "application/json")
	resp := Response{Jsonrpc: "2.0", ID: id, Result: result, Error: rpcErr}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("rpcserver: failed to encode response", "err", err)
	}
}

func writeHTTPError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
