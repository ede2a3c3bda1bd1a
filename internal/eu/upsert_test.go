package eu

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueByKeyKeepsLastOccurrence(t *testing.T) {
	items := []Item{
		{ObjectKind: "customer", ID: "cus_1", RawDocument: json.RawMessage(`{"v":1}`)},
		{ObjectKind: "customer", ID: "cus_2", RawDocument: json.RawMessage(`{"v":1}`)},
		{ObjectKind: "customer", ID: "cus_1", RawDocument: json.RawMessage(`{"v":2}`)},
	}

	out := uniqueByKey(items)

	require.Len(t, out, 2)
	byID := make(map[string]Item, len(out))
	for _, it := range out {
		byID[it.ID] = it
	}
	assert.JSONEq(t, `{"v":2}`, string(byID["cus_1"].RawDocument))
	assert.JSONEq(t, `{"v":1}`, string(byID["cus_2"].RawDocument))
}

func TestUniqueByKeyDistinguishesObjectKind(t *testing.T) {
	items := []Item{
		{ObjectKind: "customer", ID: "id_1"},
		{ObjectKind: "invoice", ID: "id_1"},
	}

	out := uniqueByKey(items)

	assert.Len(t, out, 2)
}

func TestExtractEmbeddedObjectsFindsNestedProviderObjects(t *testing.T) {
	doc := json.RawMessage(`{
		"id": "in_1",
		"object": "invoice",
		"customer": {"id": "cus_1", "object": "customer"},
		"metadata": {"foo": "bar"},
		"amount_due": 500
	}`)

	refs := extractEmbeddedObjects(doc)

	require.Len(t, refs, 1)
	assert.Equal(t, "customer", refs[0].ObjectKind)
	assert.Equal(t, "cus_1", refs[0].ID)
}

func TestExtractEmbeddedObjectsIgnoresPlainFields(t *testing.T) {
	doc := json.RawMessage(`{"id": "cus_1", "object": "customer", "email": "a@example.com"}`)

	refs := extractEmbeddedObjects(doc)

	assert.Empty(t, refs)
}
