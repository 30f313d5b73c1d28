// Package eventbus mirrors resolver task activity (computed/loaded/accessed
// events) onto a NATS subject for out-of-process observers, adapted from
// the ambient stack's natsctx helpers (trace-context injection/extraction
// around a bare *nats.Conn) into a small typed publisher purpose-built for
// flow.EventSink.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/entityresolver/internal/flow"
)

var propagator = propagation.TraceContext{}

// Bus publishes resolver task events to NATS. It satisfies flow.EventSink,
// so a Resolver configured with a Bus mirrors every logged task transition
// onto "resolver.task.<status>".
type Bus struct {
	conn *nats.Conn
}

// Connect dials the NATS server at url and returns a Bus.
func Connect(url string) (*Bus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect to %q: %w", url, err)
	}
	return &Bus{conn: conn}, nil
}

// Close closes the underlying NATS connection.
func (b *Bus) Close() {
	b.conn.Close()
}

type taskEvent struct {
	EntityName string `json:"entity_name"`
	CaseKey    string `json:"case_key"`
	Status     string `json:"status"`
}

// PublishTaskEvent implements flow.EventSink. Marshal and publish failures
// are discarded rather than returned, since activity mirroring is
// best-effort and must never affect resolution.
func (b *Bus) PublishTaskEvent(ctx context.Context, status string, key flow.TaskKey) {
	data, err := json.Marshal(taskEvent{
		EntityName: string(key.EntityName),
		CaseKey:    key.CaseKey.String(),
		Status:     status,
	})
	if err != nil {
		return
	}

	subject := "resolver.task." + status
	hdr := nats.Header{}
	carrier := propagation.HeaderCarrier(hdr)
	propagator.Inject(ctx, carrier)
	msg := &nats.Msg{Subject: subject, Data: data, Header: hdr}
	_ = b.conn.PublishMsg(msg)
}

// Subscribe wraps the NATS subscription call, extracting trace context from
// each message's headers and starting a child span before invoking
// handler, mirroring how the ambient stack's natsctx.Subscribe works.
func Subscribe(conn *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return conn.Subscribe(subject, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		ctx := propagator.Extract(context.Background(), carrier)
		tracer := otel.Tracer("entityresolver-eventbus")
		ctx, span := tracer.Start(ctx, "eventbus.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}
