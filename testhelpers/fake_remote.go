package testhelpers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"drainvoice/internal/common"
	"drainvoice/internal/models"
)

// FakeRemoteStore is an in-memory repositories.RemoteStore with the same
// merge, ordering and not-found behaviour as the Postgres store.
type FakeRemoteStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]interface{}
	failErr  error
	failLeft int
	failOn   map[string]error
	calls    map[string]int
	ops      []string
	hook     func(op, id string)
}

func NewFakeRemoteStore() *FakeRemoteStore {
	return &FakeRemoteStore{
		docs:   map[string]map[string]interface{}{},
		failOn: map[string]error{},
		calls:  map[string]int{},
	}
}

// FailAll makes every call fail with err until cleared with FailAll(nil).
func (f *FakeRemoteStore) FailAll(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
	f.failLeft = -1
}

// FailNext makes the next n calls fail with err.
func (f *FakeRemoteStore) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
	f.failLeft = n
}

// FailFor makes writes for id fail with err; nil clears it.
func (f *FakeRemoteStore) FailFor(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOn, id)
		return
	}
	f.failOn[id] = err
}

// OnCall registers fn to run, unlocked, at the start of each call.
func (f *FakeRemoteStore) OnCall(fn func(op, id string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = fn
}

// Calls returns how many times op was invoked.
func (f *FakeRemoteStore) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Ops returns successful writes in order, as "upsert:<id>" or "delete:<id>".
func (f *FakeRemoteStore) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// Has reports whether a document exists for id.
func (f *FakeRemoteStore) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[id]
	return ok
}

// Raw returns the stored document for id as a generic map.
func (f *FakeRemoteStore) Raw(id string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// Seed stores inv directly, bypassing failure injection and call counts.
func (f *FakeRemoteStore) Seed(inv *models.Invoice) {
	doc, err := toDocument(inv.RemoteDocument())
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[inv.ID] = doc
}

func (f *FakeRemoteStore) begin(op, id string) error {
	f.mu.Lock()
	f.calls[op]++
	hook := f.hook
	var err error
	if f.failLeft != 0 && f.failErr != nil {
		err = f.failErr
		if f.failLeft > 0 {
			f.failLeft--
		}
	} else if idErr, ok := f.failOn[id]; ok && id != "" {
		err = idErr
	}
	f.mu.Unlock()

	if hook != nil {
		hook(op, id)
	}
	if err != nil {
		return common.NewRemoteError(op, err)
	}
	return nil
}

func (f *FakeRemoteStore) ListInvoices(ctx context.Context, pageSize int, after *models.PageCursor) (*models.InvoicePage, error) {
	if err := f.begin("list", ""); err != nil {
		return nil, err
	}

	f.mu.Lock()
	all := make([]*models.Invoice, 0, len(f.docs))
	for id, doc := range f.docs {
		inv, err := fromDocument(id, doc)
		if err != nil {
			f.mu.Unlock()
			return nil, common.NewRemoteError("list", err)
		}
		all = append(all, inv)
	}
	f.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date > all[j].Date
		}
		return all[i].ID > all[j].ID
	})

	start := 0
	if after != nil {
		start = len(all)
		for i, inv := range all {
			if inv.Date < after.Date || (inv.Date == after.Date && inv.ID < after.ID) {
				start = i
				break
			}
		}
	}
	rest := all[start:]

	page := &models.InvoicePage{Invoices: rest}
	if len(rest) > pageSize {
		page.Invoices = rest[:pageSize]
		page.Next = models.CursorOf(page.Invoices[pageSize-1])
	}
	return page, nil
}

func (f *FakeRemoteStore) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	if err := f.begin("get", id); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, common.ErrNotFound)
	}
	return fromDocument(id, doc)
}

func (f *FakeRemoteStore) UpsertInvoice(ctx context.Context, id string, inv *models.Invoice, merge bool) error {
	if err := f.begin("upsert", id); err != nil {
		return err
	}

	remote := inv.RemoteDocument()
	remote.ID = id
	doc, err := toDocument(remote)
	if err != nil {
		return common.NewRemoteError("upsert", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.docs[id]; ok && merge {
		for k, v := range doc {
			existing[k] = v
		}
		doc = existing
	}
	f.docs[id] = doc
	f.ops = append(f.ops, "upsert:"+id)
	return nil
}

func (f *FakeRemoteStore) DeleteInvoice(ctx context.Context, id string) error {
	if err := f.begin("delete", id); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	f.ops = append(f.ops, "delete:"+id)
	return nil
}

func (f *FakeRemoteStore) Ping(ctx context.Context) error {
	return f.begin("ping", "")
}

func toDocument(inv *models.Invoice) (map[string]interface{}, error) {
	data, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	err = json.Unmarshal(data, &doc)
	return doc, err
}

func fromDocument(id string, doc map[string]interface{}) (*models.Invoice, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var inv models.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, err
	}
	inv.ID = id
	return &inv, nil
}
