package cache

import (
	"path/filepath"
	"testing"

	"github.com/swarmguard/entityresolver/internal/flow"
	"github.com/swarmguard/entityresolver/internal/protocol"
)

func openTestCache(t *testing.T) *BoltCache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "resolver-cache.db")
	c, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testQuery(name string, value int) flow.Query {
	return flow.Query{
		Name:       flow.EntityName(name),
		Protocol:   protocol.NewJSON[int](name),
		CaseKey:    flow.NewCaseKey(flow.CaseKeyEntry{Name: "n", Value: value}),
		Provenance: flow.NewProvenance("code:"+name, flow.EmptyCaseKey, nil),
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	c := openTestCache(t)
	q := testQuery("widget", 1)

	_, ok := c.Load(q)
	if ok {
		t.Fatalf("expected miss before save")
	}

	if err := c.Save(flow.Result{Query: q, Value: 42}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := c.Load(q)
	if !ok {
		t.Fatalf("expected hit after save")
	}
	if got.Value != 42 {
		t.Fatalf("expected 42, got %v", got.Value)
	}
}

func TestLoadMissForDistinctProvenance(t *testing.T) {
	c := openTestCache(t)
	q1 := testQuery("widget", 1)
	q2 := flow.Query{
		Name:       q1.Name,
		Protocol:   q1.Protocol,
		CaseKey:    q1.CaseKey,
		Provenance: flow.NewProvenance("code:widget:v2", flow.EmptyCaseKey, nil),
	}

	if err := c.Save(flow.Result{Query: q1, Value: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := c.Load(q2); ok {
		t.Fatalf("expected miss for a query with different provenance")
	}
}
