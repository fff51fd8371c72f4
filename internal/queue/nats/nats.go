// Copyright 2026 The Odd Jobs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package nats backs a worker's queue against a NATS JetStream stream
// instead of the daemon's own persisted queue, for operators who already
// run NATS as shared infrastructure across more than this one host.
// A worker configured this way still talks to it through list_cmd/
// take_cmd, so internal/executor never links against the NATS client
// directly. No command under cmd/ wraps Source.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Config names the stream and consumer a Source binds to.
type Config struct {
	URL           string
	Stream        string
	Subject       string
	Durable       string
	MaxReconnects int
}

// Source lists and claims messages from a JetStream pull consumer. List
// peeks without acknowledging; Take fetches-and-acks a single message,
// mirroring the persisted queue's list/take split so the two backends
// are interchangeable from a worker's point of view.
type Source struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	sub  *nats.Subscription
	cfg  Config
}

// Open connects to cfg.URL and binds a durable pull consumer on
// cfg.Subject within cfg.Stream, creating the stream if it does not
// already exist.
func Open(cfg Config) (*Source, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats queue: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats queue: jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{Name: cfg.Stream, Subjects: []string{cfg.Subject}}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("nats queue: add stream: %w", err)
		}
	}

	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats queue: pull subscribe: %w", err)
	}

	return &Source{conn: conn, js: js, sub: sub, cfg: cfg}, nil
}

// candidate mirrors the JSON shape internal/engine's candidateID
// helper and the persisted queue's list output both expect: an "id"
// field alongside the payload.
type candidate struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// List fetches up to max pending messages without acknowledging them, so
// a worker's list_cmd can report candidates without yet claiming any.
func (s *Source) List(ctx context.Context, max int) ([]byte, error) {
	msgs, err := s.sub.Fetch(max, nats.MaxWait(2*time.Second))
	if err != nil && err != nats.ErrTimeout {
		return nil, fmt.Errorf("nats queue: fetch: %w", err)
	}

	out := make([]candidate, 0, len(msgs))
	for _, m := range msgs {
		meta, metaErr := m.Metadata()
		id := ""
		if metaErr == nil {
			id = fmt.Sprintf("%d", meta.Sequence.Stream)
		}
		out = append(out, candidate{ID: id, Payload: append([]byte(nil), m.Data...)})
		// Nak immediately: List only peeks, Take is what claims a message.
		_ = m.Nak()
	}
	return json.Marshal(out)
}

// Take fetches a single message matching itemID (its stream sequence
// number) and acknowledges it, returning its payload. Acking here is
// the JetStream equivalent of the persisted queue's QueueTaken
// transition: once acked, the message will not be redelivered.
func (s *Source) Take(ctx context.Context, itemID string) ([]byte, error) {
	msgs, err := s.sub.Fetch(1, nats.MaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("nats queue: fetch: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("nats queue: no message available for item %q", itemID)
	}

	m := msgs[0]
	meta, err := m.Metadata()
	if err != nil || fmt.Sprintf("%d", meta.Sequence.Stream) != itemID {
		_ = m.Nak()
		return nil, fmt.Errorf("nats queue: next message is not item %q", itemID)
	}
	if err := m.Ack(); err != nil {
		return nil, fmt.Errorf("nats queue: ack: %w", err)
	}
	return append([]byte(nil), m.Data...), nil
}

// Close drains and closes the underlying connection.
func (s *Source) Close() {
	if s.conn != nil {
		if err := s.conn.Drain(); err != nil {
			s.conn.Close()
		}
	}
}
