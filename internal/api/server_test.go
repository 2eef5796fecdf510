package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"Certifier/internal/authority/authoritytest"
	"Certifier/internal/committee"
	"Certifier/internal/messages"
	"Certifier/internal/quorum"
	"Certifier/internal/wire"
)

// testGateway builds an aggregator over in-process authorities.
func testGateway(t *testing.T, net *authoritytest.Network, reg prometheus.Registerer) *quorum.Aggregator {
	t.Helper()

	clients := make(map[committee.AuthorityName]quorum.AuthorityClient, len(net.Names))
	for i, name := range net.Names {
		clients[name] = net.Client(i)
	}

	cfg := quorum.DefaultConfig()
	cfg.PostQuorumTimeout = 200 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second

	agg, err := quorum.New(net.Committee, clients, cfg, quorum.NewMetrics(reg))
	if err != nil {
		t.Fatalf("aggregator: %v", err)
	}

	return agg
}

// do sends a request through the API routes.
func do(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	return w
}

// decode parses a JSON response body.
func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("parse response %q: %v", w.Body.String(), err)
	}

	return out
}

// TestHealthEndpoint tests the health endpoint.
func TestHealthEndpoint(t *testing.T) {
	net := authoritytest.New(t, 4)
	s := New(Config{}, testGateway(t, net, nil))

	w := do(s, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" || resp["authorities"] != float64(4) {
		t.Errorf("unexpected health %v", resp)
	}
}

// TestExecuteOrder tests POST /orders end to end.
func TestExecuteOrder(t *testing.T) {
	net := authoritytest.New(t, 4)
	s := New(Config{}, testGateway(t, net, nil))

	alice, priv := authoritytest.NewAccount(t)
	bob, _ := authoritytest.NewAccount(t)
	obj := net.Genesis(t, alice, 1)[0]

	order := authoritytest.Order(messages.OrderTransfer, priv, []messages.ObjectRef{obj.Ref()}, bob, nil)

	w := do(s, "POST", "/orders", wire.MarshalOrder(order))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	res := decode[OrderResult](t, w)

	if res.Digest != order.Digest().String() {
		t.Errorf("digest = %s, want %s", res.Digest, order.Digest())
	}

	cert, err := wire.UnmarshalCertificate(res.Certificate)
	if err != nil {
		t.Fatalf("decode certificate: %v", err)
	}

	if err := cert.Check(net.Committee); err != nil {
		t.Errorf("returned certificate does not verify: %v", err)
	}

	if res.Confirmations < 3 {
		t.Errorf("confirmations = %d, want at least 3", res.Confirmations)
	}

	if res.Effects == nil || len(res.Effects.Mutated) != 1 || res.Effects.Mutated[0].Version != 1 {
		t.Errorf("unexpected effects %+v", res.Effects)
	}

	w = do(s, "GET", "/objects/"+obj.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get object: status %d: %s", w.Code, w.Body.String())
	}

	view := decode[ObjectView](t, w)
	if view.Object == nil || view.Object.Owner != bob.String() || view.Object.Version != 1 {
		t.Errorf("unexpected object view %+v", view)
	}
}

// TestCertifyThenConfirm tests the two-step flow and certificate lookup.
func TestCertifyThenConfirm(t *testing.T) {
	net := authoritytest.New(t, 4)
	s := New(Config{}, testGateway(t, net, nil))

	alice, priv := authoritytest.NewAccount(t)
	obj := net.Genesis(t, alice, 1)[0]

	order := authoritytest.Order(messages.OrderCall, priv, []messages.ObjectRef{obj.Ref()}, messages.Address{}, []byte("v2"))

	w := do(s, "POST", "/orders/certify", wire.MarshalOrder(order))
	if w.Code != http.StatusOK {
		t.Fatalf("certify: status %d: %s", w.Code, w.Body.String())
	}

	certified := decode[OrderResult](t, w)
	if certified.Confirmations != 0 || certified.Effects != nil {
		t.Error("certify should not execute")
	}

	w = do(s, "POST", "/certificates/confirm", certified.Certificate)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: status %d: %s", w.Code, w.Body.String())
	}

	if res := decode[OrderResult](t, w); res.Effects == nil {
		t.Error("confirm should report effects")
	}

	w = do(s, "GET", fmt.Sprintf("/certificates/%s/0", obj.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("fetch certificate: status %d: %s", w.Code, w.Body.String())
	}

	if res := decode[CertificateResult](t, w); res.Digest != order.Digest().String() {
		t.Errorf("fetched certificate %s, want %s", res.Digest, order.Digest())
	}

	w = do(s, "GET", fmt.Sprintf("/certificates/%s/5", obj.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown certificate: expected 404, got %d", w.Code)
	}
}

// TestSyncAccount tests GET /accounts/{address}/sync.
func TestSyncAccount(t *testing.T) {
	net := authoritytest.New(t, 4)
	s := New(Config{}, testGateway(t, net, nil))

	alice, priv := authoritytest.NewAccount(t)
	objs := net.Genesis(t, alice, 3)

	del := authoritytest.Order(messages.OrderDelete, priv, []messages.ObjectRef{objs[0].Ref()}, messages.Address{}, nil)
	net.Execute(t, net.Certify(t, del, 0, 1, 2), 0, 1, 2)

	w := do(s, "GET", "/accounts/"+alice.String()+"/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync: status %d: %s", w.Code, w.Body.String())
	}

	state := decode[OwnedState](t, w)

	if state.Address != alice.String() {
		t.Errorf("address = %s", state.Address)
	}

	if len(state.Objects) != 2 {
		t.Errorf("objects = %d, want 2", len(state.Objects))
	}

	if len(state.Deleted) != 1 || state.Deleted[0].ID != objs[0].ID.String() {
		t.Errorf("deleted = %+v, want %s", state.Deleted, objs[0].ID)
	}
}

// TestRejectsInvalidOrders tests validation before any fan-out.
func TestRejectsInvalidOrders(t *testing.T) {
	net := authoritytest.New(t, 4)
	s := New(Config{}, testGateway(t, net, nil))

	alice, priv := authoritytest.NewAccount(t)
	_, other := authoritytest.NewAccount(t)
	obj := net.Genesis(t, alice, 1)[0]
	ref := obj.Ref()

	forged := authoritytest.Order(messages.OrderTransfer, priv, []messages.ObjectRef{ref}, alice, nil)
	forged.Sign(other)

	cases := map[string][]byte{
		"empty body":       nil,
		"garbage":          []byte("not an order"),
		"no inputs":        wire.MarshalOrder(authoritytest.Order(messages.OrderCall, priv, nil, alice, nil)),
		"unknown kind":     wire.MarshalOrder(authoritytest.Order(messages.OrderKind(9), priv, []messages.ObjectRef{ref}, alice, nil)),
		"duplicate inputs": wire.MarshalOrder(authoritytest.Order(messages.OrderCall, priv, []messages.ObjectRef{ref, ref}, alice, nil)),
		"bad signature":    wire.MarshalOrder(forged),
	}

	for name, body := range cases {
		if w := do(s, "POST", "/orders", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", name, w.Code, w.Body.String())
		}
	}

	if w := do(s, "POST", "/orders", make([]byte, maxBodySize+1)); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: expected 413, got %d", w.Code)
	}

	if w := do(s, "POST", "/certificates/confirm", wire.MarshalOrder(forged)); w.Code != http.StatusBadRequest {
		t.Errorf("order as certificate: expected 400, got %d", w.Code)
	}
}

// TestConflictingOrder tests that an equivocating client gets 409.
func TestConflictingOrder(t *testing.T) {
	net := authoritytest.New(t, 4)
	s := New(Config{}, testGateway(t, net, nil))

	alice, priv := authoritytest.NewAccount(t)
	bob, _ := authoritytest.NewAccount(t)
	carol, _ := authoritytest.NewAccount(t)
	obj := net.Genesis(t, alice, 1)[0]

	first := authoritytest.Order(messages.OrderTransfer, priv, []messages.ObjectRef{obj.Ref()}, bob, nil)
	if w := do(s, "POST", "/orders/certify", wire.MarshalOrder(first)); w.Code != http.StatusOK {
		t.Fatalf("first order: status %d: %s", w.Code, w.Body.String())
	}

	second := authoritytest.Order(messages.OrderTransfer, priv, []messages.ObjectRef{obj.Ref()}, carol, nil)

	w := do(s, "POST", "/orders/certify", wire.MarshalOrder(second))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	if resp := decode[ErrorResponse](t, w); resp.Code == "" {
		t.Error("error response should carry a code")
	}
}

// TestInvalidPathParameters tests malformed identifiers in routes.
func TestInvalidPathParameters(t *testing.T) {
	net := authoritytest.New(t, 4)
	s := New(Config{}, testGateway(t, net, nil))

	id := strings.Repeat("01", 32)

	for _, path := range []string{
		"/certificates/xyz/0",
		"/certificates/" + id + "/minus",
		"/objects/short",
		"/accounts/zz/sync",
	} {
		if w := do(s, "GET", path, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

// TestMetricsEndpoint tests that quorum metrics are exported.
func TestMetricsEndpoint(t *testing.T) {
	net := authoritytest.New(t, 4)
	reg := prometheus.NewRegistry()
	s := New(Config{Gatherer: reg}, testGateway(t, net, reg))

	alice, _ := authoritytest.NewAccount(t)
	if w := do(s, "GET", "/accounts/"+alice.String()+"/sync", nil); w.Code != http.StatusOK {
		t.Fatalf("sync: status %d: %s", w.Code, w.Body.String())
	}

	w := do(s, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", w.Code)
	}

	if !strings.Contains(w.Body.String(), "certifier_quorum_rounds_total") {
		t.Error("metrics should include quorum rounds")
	}

	if w := do(s, "GET", "/metrics", nil); w.Code != http.StatusOK {
		t.Errorf("second scrape: status %d", w.Code)
	}

	noMetrics := New(Config{}, testGateway(t, net, nil))
	if w := do(noMetrics, "GET", "/metrics", nil); w.Code != http.StatusNotFound {
		t.Errorf("metrics without gatherer: expected 404, got %d", w.Code)
	}
}

// TestStatusOf tests the error to status mapping.
func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("wrapped:\n%w", messages.ErrConflictingOrder), http.StatusConflict},
		{messages.ErrCertificateNotFound, http.StatusNotFound},
		{messages.ErrInvalidSignature, http.StatusBadRequest},
		{messages.ErrTransport, http.StatusServiceUnavailable},
		{messages.NewQuorumNotReached(1, []messages.WeightedError{{Err: messages.ErrConflictingOrder, Weight: 2}}), http.StatusConflict},
	}

	for _, c := range cases {
		if got := statusOf(c.err); got != c.want {
			t.Errorf("statusOf(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
