package ingress

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/ekind"
)

// Tenants resolves the multi-tenant routing table: which account owns a
// given ingress host, and which secret that account's events are signed
// with.
type Tenants interface {
	// ByHost returns the tenant routed at host, or nil if the host is
	// unknown.
	ByHost(ctx context.Context, host string) (*dg.Merchant, error)
	// SecretForAccount returns the signing secret for accountID. It is
	// the SecretLookup the Event Processor verifies against.
	SecretForAccount(ctx context.Context, accountID string) (string, error)
}

// GatewayTenants serves the routing table from the merchants table.
type GatewayTenants struct {
	Gateway *dg.Gateway
}

var _ Tenants = (*GatewayTenants)(nil)

func (t *GatewayTenants) ByHost(ctx context.Context, host string) (*dg.Merchant, error) {
	return t.Gateway.GetMerchantByHost(ctx, host)
}

func (t *GatewayTenants) SecretForAccount(ctx context.Context, accountID string) (string, error) {
	return t.Gateway.GetMerchantSecretForAccount(ctx, accountID)
}

// StaticTenants serves the routing table from an in-memory map, the
// durable-table-free deployment mode configured by MERCHANT_CONFIG_JSON.
type StaticTenants struct {
	mu        sync.RWMutex
	byHost    map[string]dg.Merchant
	byAccount map[string]string
}

var _ Tenants = (*StaticTenants)(nil)

// ParseMerchantConfig decodes the MERCHANT_CONFIG_JSON document: an
// object keyed by host, each value carrying the account id and webhook
// secret for that host.
func ParseMerchantConfig(raw string) (*StaticTenants, error) {
	var doc map[string]struct {
		AccountID     string `json:"account_id"`
		WebhookSecret string `json:"webhook_secret"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, ekind.New(ekind.Configuration, err)
	}

	t := &StaticTenants{
		byHost:    make(map[string]dg.Merchant, len(doc)),
		byAccount: make(map[string]string, len(doc)),
	}
	for host, entry := range doc {
		if entry.AccountID == "" || entry.WebhookSecret == "" {
			return nil, ekind.Newf(ekind.Configuration,
				"merchant config for host %q must set account_id and webhook_secret", host)
		}
		t.Add(dg.Merchant{
			Host:          host,
			AccountID:     entry.AccountID,
			WebhookSecret: entry.WebhookSecret,
		})
	}
	return t, nil
}

// Add registers one merchant route. Hosts are matched case-insensitively.
func (t *StaticTenants) Add(m dg.Merchant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byHost == nil {
		t.byHost = make(map[string]dg.Merchant)
		t.byAccount = make(map[string]string)
	}
	m.Host = strings.ToLower(m.Host)
	t.byHost[m.Host] = m
	t.byAccount[m.AccountID] = m.WebhookSecret
}

func (t *StaticTenants) ByHost(_ context.Context, host string) (*dg.Merchant, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byHost[strings.ToLower(host)]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (t *StaticTenants) SecretForAccount(_ context.Context, accountID string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	secret, ok := t.byAccount[accountID]
	if !ok {
		return "", ekind.Newf(ekind.NotFound, "no merchant route for account %q", accountID)
	}
	return secret, nil
}
