// Package cache provides the persistent artifact cache the resolver
// bootstraps itself against: a BoltDB-backed implementation of
// internal/flow.Cache, grounded on the teacher's bbolt-backed WorkflowStore
// but stripped down to the narrower Load/Save contract a content-addressed
// result cache actually needs (no versioning, listing, or pagination --
// those are workflow-store concerns, not artifact-cache ones).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/entityresolver/internal/flow"
	"github.com/swarmguard/entityresolver/internal/resilience"
)

var bucketResults = []byte("results")

// record is the on-disk encoding for one cached query/result pair: enough
// to reconstruct a flow.Result on load without re-deriving provenance.
type record struct {
	EntityName    string         `json:"entity_name"`
	CaseKey       []caseKeyEntry `json:"case_key"`
	ProvenanceHex string         `json:"provenance_hash"`
	Value         json.RawMessage `json:"value"`
}

type caseKeyEntry struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// BoltCache implements flow.Cache on top of go.etcd.io/bbolt.
type BoltCache struct {
	db *bbolt.DB

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
	hits         metric.Int64Counter
	misses       metric.Int64Counter

	retryAttempts int
	retryDelay    time.Duration
}

// Option configures a BoltCache.
type Option func(*BoltCache)

// WithMeter attaches OpenTelemetry instruments to the cache, mirroring the
// teacher's WorkflowStore read/write latency histograms and hit/miss
// counters.
func WithMeter(meter metric.Meter) Option {
	return func(c *BoltCache) {
		c.readLatency, _ = meter.Float64Histogram("resolver_cache_read_ms")
		c.writeLatency, _ = meter.Float64Histogram("resolver_cache_write_ms")
		c.hits, _ = meter.Int64Counter("resolver_cache_hits_total")
		c.misses, _ = meter.Int64Counter("resolver_cache_misses_total")
	}
}

// WithRetry overrides the bounded retry policy wrapping each bbolt
// transaction. Defaults to 2 attempts with a 20ms base delay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *BoltCache) {
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

// Open opens (creating if necessary) a BoltDB-backed cache at path.
func Open(path string, opts ...Option) (*BoltCache, error) {
	boltOpts := &bbolt.Options{
		Timeout:      1 * time.Second,
		NoGrowSync:   false,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0600, boltOpts)
	if err != nil {
		return nil, fmt.Errorf("cache: open boltdb: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create results bucket: %w", err)
	}

	c := &BoltCache{db: db, retryAttempts: 2, retryDelay: 20 * time.Millisecond}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the underlying BoltDB handle.
func (c *BoltCache) Close() error {
	return c.db.Close()
}

func (c *BoltCache) key(q flow.Query) []byte {
	return []byte(string(q.Name) + "\x00" + q.Provenance.HexHash())
}

// Load looks up the result for q. Cache I/O failure after the bounded retry
// is treated as a miss (absent), never surfaced to the resolver as an
// error -- a transient BoltDB hiccup should make the resolver recompute and
// re-persist rather than fail an otherwise-successful resolve call.
func (c *BoltCache) Load(q flow.Query) (flow.Result, bool) {
	start := time.Now()
	key := c.key(q)

	rec, err := resilience.Retry(context.Background(), c.retryAttempts, c.retryDelay, func() (*record, error) {
		var data []byte
		err := c.db.View(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketResults)
			v := b.Get(key)
			if v == nil {
				return errNotFound
			}
			data = append([]byte(nil), v...)
			return nil
		})
		if err != nil {
			return nil, err
		}
		var r record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return &r, nil
	})

	c.observeRead(start)
	if err != nil || rec == nil {
		c.observeMiss()
		return flow.Result{}, false
	}

	value, err := q.Protocol.Deserialize(rec.Value)
	if err != nil {
		c.observeMiss()
		return flow.Result{}, false
	}
	c.observeHit()
	return flow.Result{Query: q, Value: value}, true
}

// Save persists r, keyed by its query's entity name and provenance hash.
func (c *BoltCache) Save(r flow.Result) error {
	start := time.Now()
	defer c.observeWrite(start)

	data, err := r.Query.Protocol.Serialize(r.Value)
	if err != nil {
		return fmt.Errorf("cache: serialize value for %s: %w", r.Query.Name, err)
	}

	entries := make([]caseKeyEntry, len(r.Query.CaseKey.Entries()))
	for i, e := range r.Query.CaseKey.Entries() {
		entries[i] = caseKeyEntry{Name: e.Name, Value: e.Value}
	}
	rec := record{
		EntityName:    string(r.Query.Name),
		CaseKey:       entries,
		ProvenanceHex: r.Query.Provenance.HexHash(),
		Value:         data,
	}
	recData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: marshal record: %w", err)
	}

	key := c.key(r.Query)
	_, err = resilience.Retry(context.Background(), c.retryAttempts, c.retryDelay, func() (struct{}, error) {
		return struct{}{}, c.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketResults).Put(key, recData)
		})
	})
	if err != nil {
		return fmt.Errorf("cache: write result: %w", err)
	}
	return nil
}

func (c *BoltCache) observeRead(start time.Time) {
	if c.readLatency != nil {
		c.readLatency.Record(context.Background(), float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "load")))
	}
}

func (c *BoltCache) observeWrite(start time.Time) {
	if c.writeLatency != nil {
		c.writeLatency.Record(context.Background(), float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "save")))
	}
}

func (c *BoltCache) observeHit() {
	if c.hits != nil {
		c.hits.Add(context.Background(), 1)
	}
}

func (c *BoltCache) observeMiss() {
	if c.misses != nil {
		c.misses.Add(context.Background(), 1)
	}
}

var errNotFound = fmt.Errorf("cache: key not found")
