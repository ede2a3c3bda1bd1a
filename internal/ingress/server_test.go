package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/ep"
	"github.com/dbashand/stripe-sync-engine/internal/eu"
	"github.com/dbashand/stripe-sync-engine/internal/hlc"
)

// memorySink records what the processor dispatched without a database.
type memorySink struct {
	mu      sync.Mutex
	upserts []eu.Item
	deletes []string
}

func (s *memorySink) Upsert(_ context.Context, _ string, items []eu.Item, _ hlc.Time, _ eu.Options) ([]eu.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, items...)
	out := make([]eu.Outcome, len(items))
	for i, it := range items {
		out[i] = eu.Outcome{ObjectKind: it.ObjectKind, ID: it.ID, Outcome: "updated"}
	}
	return out, nil
}

func (s *memorySink) SoftDelete(_ context.Context, _, _, id string, _ hlc.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	return false, nil
}

func sign(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newTestServer(t *testing.T) (*Server, *memorySink) {
	t.Helper()

	tenants := &StaticTenants{}
	tenants.Add(dg.Merchant{Host: "a.example", AccountID: "acct_a", WebhookSecret: "whsec_a"})
	tenants.Add(dg.Merchant{Host: "b.example", AccountID: "acct_b", WebhookSecret: "whsec_b"})

	sink := &memorySink{}
	processor := ep.New(sink, tenants.SecretForAccount)
	return New(Config{}, tenants, processor, nil), sink
}

func postEvent(t *testing.T, handler http.Handler, host, body, sigHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(body))
	req.Host = host
	req.Header.Set(SignatureHeader, sigHeader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMultiTenantRouting(t *testing.T) {
	server, sink := newTestServer(t)
	handler := server.Router()

	now := time.Now().Unix()
	body := `{"id":"evt_1","type":"customer.updated","created":` + fmt.Sprint(now) +
		`,"data":{"object":{"id":"cus_1","object":"customer"}}}`

	// Signed with a.example's secret, sent to a.example.
	rec := postEvent(t, handler, "a.example", body, sign("whsec_a", now, []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	// Same body signed with b.example's secret, sent to a.example.
	rec = postEvent(t, handler, "a.example", body, sign("whsec_b", now, []byte(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Signed for b.example, sent to b.example.
	rec = postEvent(t, handler, "b.example", body, sign("whsec_b", now, []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unknown host.
	rec = postEvent(t, handler, "c.example", body, sign("whsec_a", now, []byte(body)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Len(t, sink.upserts, 2)
	assert.Equal(t, "cus_1", sink.upserts[0].ID)
}

func TestHostNormalizationIgnoresPortAndCase(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Router()

	now := time.Now().Unix()
	body := `{"id":"evt_2","type":"charge.updated","created":` + fmt.Sprint(now) +
		`,"data":{"object":{"id":"ch_1","object":"charge"}}}`

	rec := postEvent(t, handler, "A.Example:8443", body, sign("whsec_a", now, []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeletedEventSoftDeletes(t *testing.T) {
	server, sink := newTestServer(t)
	handler := server.Router()

	now := time.Now().Unix()
	body := `{"id":"evt_3","type":"customer.deleted","created":` + fmt.Sprint(now) +
		`,"data":{"object":{"id":"cus_gone","object":"customer"}}}`

	rec := postEvent(t, handler, "a.example", body, sign("whsec_a", now, []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.deletes, 1)
	assert.Equal(t, "cus_gone", sink.deletes[0])
	assert.Empty(t, sink.upserts)
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestParseMerchantConfig(t *testing.T) {
	tenants, err := ParseMerchantConfig(`{
		"a.example": {"account_id": "acct_a", "webhook_secret": "whsec_a"}
	}`)
	require.NoError(t, err)

	m, err := tenants.ByHost(context.Background(), "a.example")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "acct_a", m.AccountID)

	secret, err := tenants.SecretForAccount(context.Background(), "acct_a")
	require.NoError(t, err)
	assert.Equal(t, "whsec_a", secret)
}

func TestParseMerchantConfigRejectsIncompleteEntry(t *testing.T) {
	_, err := ParseMerchantConfig(`{"a.example": {"account_id": "acct_a"}}`)
	require.Error(t, err)
}
