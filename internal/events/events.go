// Package events publishes alert lifecycle changes to the message bus.
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	AlertCreated        = "alert.created"
	AlertAcknowledged   = "alert.acknowledged"
	AlertResolved       = "alert.resolved"
	CorrelationCreated  = "correlation.created"
	CorrelationExtended = "correlation.extended"
	CorrelationResolved = "correlation.resolved"
	EscalationRecorded  = "escalation.recorded"
)

type Publisher interface {
	Publish(event string, payload interface{}) error
	Close()
}

// flushTimeout bounds how long Close waits for buffered events.
const flushTimeout = 5 * time.Second

// busConn is the part of *nats.Conn the publisher uses.
type busConn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATSPublisher sends JSON payloads to "<prefix>.<event>".
type NATSPublisher struct {
	conn   busConn
	prefix string
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("erp-sentinel"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}, nil
}

func (p *NATSPublisher) Subject(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + "." + event
}

func (p *NATSPublisher) Publish(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(event), data)
}

// Close flushes pending events to the server before closing the connection.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	_ = p.conn.FlushTimeout(flushTimeout)
	p.conn.Close()
}

// Nop discards events. It is used when no bus is configured.
type Nop struct{}

func (Nop) Publish(string, interface{}) error { return nil }
func (Nop) Close()                            {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

type Recorded struct {
	Event   string
	Payload interface{}
}

func (r *Recorder) Publish(event string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Recorded{Event: event, Payload: payload})
	return nil
}

func (r *Recorder) Close() {}

// Count returns how many events with the given name were published.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.Events {
		if e.Event == event {
			n++
		}
	}
	return n
}
