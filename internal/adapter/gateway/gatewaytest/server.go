// Package gatewaytest serves fixed payment and order records over the
// gateway's REST paths for tests and load runs.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"

	"github.com/rl1809/order-reconciler/internal/core/domain"
)

type Server struct {
	*httptest.Server
	payment  domain.GatewayPayment
	order    domain.GatewayOrder
	requests atomic.Int64
}

// NewServer starts a gateway that knows exactly one payment and one order.
// Unknown ids get the gateway's 400 BAD_REQUEST_ERROR body.
func NewServer(payment domain.GatewayPayment, order domain.GatewayOrder) *Server {
	s := &Server{payment: payment, order: order}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, s.payment.ID, s.payment)
	})
	mux.HandleFunc("GET /v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, s.order.ID, s.order)
	})
	s.Server = httptest.NewServer(mux)
	return s
}

// Requests is the number of API calls served so far.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, id string, record any) {
	s.requests.Add(1)
	w.Header().Set("Content-Type", "application/json")

	if _, _, ok := r.BasicAuth(); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		writeError(w, "BAD_REQUEST_ERROR", "Authentication failed")
		return
	}
	if !strings.EqualFold(r.PathValue("id"), id) {
		w.WriteHeader(http.StatusBadRequest)
		writeError(w, "BAD_REQUEST_ERROR", "The id provided does not exist")
		return
	}
	json.NewEncoder(w).Encode(record)
}

func writeError(w http.ResponseWriter, code, description string) {
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "description": description},
	})
}
