package eu_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbashand/stripe-sync-engine/internal/eu"
	"github.com/dbashand/stripe-sync-engine/internal/hlc"
	"github.com/dbashand/stripe-sync-engine/internal/ident"
	"github.com/dbashand/stripe-sync-engine/internal/objectkind"
	"github.com/dbashand/stripe-sync-engine/internal/testfixture"
)

func TestUpsertGroupsMixedBatchByKind(t *testing.T) {
	f := testfixture.New(t)
	customers := f.CreateEntityTable(t, "customer")
	charges := f.CreateEntityTable(t, "charge")
	upserter := eu.New(f.Gateway, f.Registry)

	items := []eu.Item{
		{ObjectKind: "customer", ID: "cus_1", RawDocument: json.RawMessage(`{"id":"cus_1","object":"customer"}`)},
		{ObjectKind: "charge", ID: "ch_1", RawDocument: json.RawMessage(`{"id":"ch_1","object":"charge"}`)},
		{ObjectKind: "customer", ID: "cus_2", RawDocument: json.RawMessage(`{"id":"cus_2","object":"customer"}`)},
	}
	outcomes, err := upserter.Upsert(f.Context, "acct_1", items, hlc.New(1000, 0), eu.Options{})
	require.NoError(t, err)
	assert.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Equal(t, "updated", o.Outcome)
	}

	nCustomers, err := f.Gateway.CountEntities(f.Context, customers, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), nCustomers)

	nCharges, err := f.Gateway.CountEntities(f.Context, charges, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), nCharges)
}

func TestUpsertReportsSkippedOlder(t *testing.T) {
	f := testfixture.New(t)
	f.CreateEntityTable(t, "customer")
	upserter := eu.New(f.Gateway, f.Registry)

	doc := json.RawMessage(`{"id":"cus_1","object":"customer"}`)
	_, err := upserter.Upsert(f.Context, "acct_1",
		[]eu.Item{{ObjectKind: "customer", ID: "cus_1", RawDocument: doc}}, hlc.New(2000, 0), eu.Options{})
	require.NoError(t, err)

	outcomes, err := upserter.Upsert(f.Context, "acct_1",
		[]eu.Item{{ObjectKind: "customer", ID: "cus_1", RawDocument: doc}}, hlc.New(1000, 0), eu.Options{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "skipped_older", outcomes[0].Outcome)
}

func TestUpsertRejectsUnregisteredKind(t *testing.T) {
	f := testfixture.New(t)
	upserter := eu.New(f.Gateway, f.Registry)

	outcomes, err := upserter.Upsert(f.Context, "acct_1",
		[]eu.Item{{ObjectKind: "mystery", ID: "x_1", RawDocument: json.RawMessage(`{}`)}},
		hlc.New(1000, 0), eu.Options{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "errored", outcomes[0].Outcome)
	require.Error(t, outcomes[0].Err)
}

func TestRepeatedFailureParksRowInDLQ(t *testing.T) {
	f := testfixture.New(t)
	// Registered kind whose table was never created: every write fails.
	f.Registry.Register(&objectkind.Kind{
		Name:  "phantom",
		Table: ident.NewTable(f.Schema, "phantoms"),
	})
	upserter := eu.New(f.Gateway, f.Registry)

	item := eu.Item{ObjectKind: "phantom", ID: "ph_1", RawDocument: json.RawMessage(`{"id":"ph_1"}`)}

	// First attempt: retried later, not parked.
	outcomes, err := upserter.Upsert(f.Context, "acct_1", []eu.Item{item}, hlc.New(1000, 0), eu.Options{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "errored", outcomes[0].Outcome)

	entries, err := f.Gateway.ListDLQ(f.Context, "acct_1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Second attempt for the same row: parked.
	_, err = upserter.Upsert(f.Context, "acct_1", []eu.Item{item}, hlc.New(1000, 0), eu.Options{})
	require.NoError(t, err)

	entries, err = f.Gateway.ListDLQ(f.Context, "acct_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "phantom", entries[0].ObjectKind)
	assert.Equal(t, "ph_1", entries[0].ProviderID)
}
