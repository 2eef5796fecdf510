// Package api is the gateway HTTP API in front of the quorum engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Certifier/internal/committee"
	"Certifier/internal/logger"
	"Certifier/internal/messages"
	"Certifier/internal/quorum"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB

	// defaultOperationTimeout bounds one quorum operation.
	defaultOperationTimeout = 90 * time.Second
)

// Gateway runs quorum operations. quorum.Aggregator implements it.
type Gateway interface {
	Committee() *committee.Committee
	ExecuteOrder(ctx context.Context, order *messages.Order) (*messages.Certificate, []*messages.OrderInfoResponse, error)
	SubmitAndCertify(ctx context.Context, order *messages.Order) (*messages.Certificate, error)
	BroadcastConfirmation(ctx context.Context, cert *messages.Certificate) ([]*messages.OrderInfoResponse, error)
	FetchCertificate(ctx context.Context, objectID messages.ObjectID, seq uint64) (*messages.Certificate, error)
	GetObjectByID(ctx context.Context, id messages.ObjectID) (*quorum.ObjectView, error)
	SyncOwnedState(ctx context.Context, owner messages.Address) (*quorum.OwnedState, error)
}

// Config holds the configuration for a Server.
type Config struct {
	Addr             string              // Addr is the HTTP listen address
	OperationTimeout time.Duration       // OperationTimeout bounds each quorum operation (0 = default)
	Gatherer         prometheus.Gatherer // Gatherer serves /metrics, nil disables the endpoint
}

// Server is the HTTP API server.
type Server struct {
	addr     string              // addr is the HTTP listen address
	gateway  Gateway             // gateway runs quorum operations
	timeout  time.Duration       // timeout bounds each quorum operation
	gatherer prometheus.Gatherer // gatherer exposes metrics
	server   *http.Server        // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(cfg Config, gateway Gateway) *Server {
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}

	return &Server{
		addr:     cfg.Addr,
		gateway:  gateway,
		timeout:  timeout,
		gatherer: cfg.Gatherer,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", s.handleExecuteOrder)
	mux.HandleFunc("POST /orders/certify", s.handleCertifyOrder)
	mux.HandleFunc("POST /certificates/confirm", s.handleConfirm)
	mux.HandleFunc("GET /certificates/{object}/{seq}", s.handleGetCertificate)
	mux.HandleFunc("GET /objects/{id}", s.handleGetObject)
	mux.HandleFunc("GET /accounts/{address}/sync", s.handleSyncAccount)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      s.timeout + 10*time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleExecuteOrder handles POST /orders: certify then confirm.
func (s *Server) handleExecuteOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.readOrder(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	cert, responses, err := s.gateway.ExecuteOrder(ctx, order)
	if err != nil {
		writeFailure(w, "execute order", err)
		return
	}

	logger.Debug("order executed", "tx", cert.Digest().String()[:16], "confirmations", len(responses))

	writeJSON(w, http.StatusOK, toOrderResult(cert, responses))
}

// handleCertifyOrder handles POST /orders/certify.
func (s *Server) handleCertifyOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.readOrder(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	cert, err := s.gateway.SubmitAndCertify(ctx, order)
	if err != nil {
		writeFailure(w, "certify order", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResult(cert, nil))
}

// handleConfirm handles POST /certificates/confirm.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	cert, err := decodeCertificate(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	responses, err := s.gateway.BroadcastConfirmation(ctx, cert)
	if err != nil {
		writeFailure(w, "confirm certificate", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResult(cert, responses))
}

// handleGetCertificate handles GET /certificates/{object}/{seq}.
func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := messages.ParseObjectID(r.PathValue("object"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid sequence %q", r.PathValue("seq")))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	cert, err := s.gateway.FetchCertificate(ctx, id, seq)
	if err != nil {
		writeFailure(w, "fetch certificate", err)
		return
	}

	res := toOrderResult(cert, nil)
	writeJSON(w, http.StatusOK, CertificateResult{Digest: res.Digest, Certificate: res.Certificate})
}

// handleGetObject handles GET /objects/{id}.
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	id, err := messages.ParseObjectID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	view, err := s.gateway.GetObjectByID(ctx, id)
	if err != nil {
		writeFailure(w, "get object", err)
		return
	}

	writeJSON(w, http.StatusOK, toObjectView(view))
}

// handleSyncAccount handles GET /accounts/{address}/sync.
func (s *Server) handleSyncAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := messages.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	state, err := s.gateway.SyncOwnedState(ctx, owner)
	if err != nil {
		writeFailure(w, "sync account", err)
		return
	}

	writeJSON(w, http.StatusOK, toOwnedState(owner, state))
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	c := s.gateway.Committee()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"epoch":       c.Epoch(),
		"authorities": c.Len(),
		"totalWeight": c.TotalWeight(),
	})
}

// readOrder reads and validates an order body, answering 400 on failure.
func (s *Server) readOrder(w http.ResponseWriter, r *http.Request) (*messages.Order, bool) {
	body, ok := readBody(w, r)
	if !ok {
		return nil, false
	}

	order, err := decodeOrder(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}

	return order, true
}

// readBody reads a bounded, non-empty request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read body"))
		return nil, false
	}

	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("empty body"))
		return nil, false
	}

	if len(body) > maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", maxBodySize))
		return nil, false
	}

	return body, true
}

// statusOf maps an operation error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, messages.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, messages.ErrConflictingOrder):
		return http.StatusConflict
	case errors.Is(err, messages.ErrCertificateNotFound), errors.Is(err, messages.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, messages.ErrInvalidSignature),
		errors.Is(err, messages.ErrInvalidOrder),
		errors.Is(err, messages.ErrIncorrectSigner),
		errors.Is(err, messages.ErrInvalidObjectDigest),
		errors.Is(err, messages.ErrUnknownSigner),
		errors.Is(err, messages.ErrDuplicateSigner),
		errors.Is(err, messages.ErrCertificateRequiresQuorum):
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// writeFailure logs and writes a failed operation.
func writeFailure(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Warn("operation failed", "op", op, "status", status, "error", err)
	}

	writeError(w, status, err)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	if code := messages.CodeOf(err); code != messages.CodeUnknown {
		resp.Code = code.String()
	}

	writeJSON(w, status, resp)
}
