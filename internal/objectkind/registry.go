// Package objectkind holds the registry that replaces dynamic dispatch
// over object kinds: a single mapping from provider kind name
// ("customer", "invoice", ...) to everything the upserter and fetcher
// need to know about it. The run registry does not read it; callers pass
// its kind list in as a run's object set. No component maintains its own
// parallel switch statement over kind names.
package objectkind

import (
	"context"

	"github.com/dbashand/stripe-sync-engine/internal/ident"
)

// ListPage is one page of raw provider objects for a given kind.
type ListPage struct {
	Items   []map[string]any
	HasMore bool
	// LastID is the id of the final item in Items, used as the next
	// page's starting_after cursor.
	LastID string
}

// Lister fetches one page of a given object kind from the provider.
type Lister interface {
	List(ctx context.Context, opts ListOptions) (ListPage, error)
}

// ListOptions captures the parameters a Lister needs for one page.
type ListOptions struct {
	PageSize      int
	CreatedGTE    int64 // unix seconds, 0 if unset
	CreatedLTE    int64 // unix seconds, 0 if unset
	StartingAfter string
}

// Revalidator fetches the single authoritative current document for an id,
// used when RevalidateViaProvider is enabled for a kind.
type Revalidator interface {
	Revalidate(ctx context.Context, id string) (map[string]any, error)
}

// Kind describes everything the sync engine knows about one provider
// object kind.
type Kind struct {
	Name                  string
	Table                 ident.Table
	SupportsCreatedFilter bool
	PageSize              int
	Lister                Lister
	Revalidator           Revalidator // optional
	RevalidateViaProvider bool
}

// Registry is the single structure the upserter and fetcher consume;
// the run registry does not read it.
type Registry struct {
	schema ident.Schema
	kinds  map[string]*Kind
	order  []string
}

// New constructs an empty Registry rooted at the given schema.
func New(schema ident.Schema) *Registry {
	return &Registry{schema: schema, kinds: make(map[string]*Kind)}
}

// Register adds or replaces a Kind. If PageSize is unset, it defaults
// to 100.
func (r *Registry) Register(k *Kind) {
	if k.PageSize == 0 {
		k.PageSize = 100
	}
	if k.Table.Raw() == "." {
		k.Table = ident.NewTable(r.schema, k.Name)
	}
	if _, exists := r.kinds[k.Name]; !exists {
		r.order = append(r.order, k.Name)
	}
	r.kinds[k.Name] = k
}

// Get returns the Kind registered under name, or false if unknown.
func (r *Registry) Get(name string) (*Kind, bool) {
	k, ok := r.kinds[name]
	return k, ok
}

// All returns every registered kind name, in registration order.
func (r *Registry) All() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Schema returns the schema this registry's tables are rooted at.
func (r *Registry) Schema() ident.Schema { return r.schema }
