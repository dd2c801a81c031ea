// Package memory keeps published capture events in process. Payloads are
// stored in their JSON wire form, the same bytes a Pub/Sub subscriber would
// receive.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

// Message is one accepted publish.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher implements screenshot.Publisher in memory.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	failure  error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes later publishes return err. Pass nil to recover.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.failure = err
	p.mu.Unlock()
}

// Publish encodes payload and appends it under topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure != nil {
		return "", p.failure
	}
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns a copy of every accepted publish in order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events decodes the capture events published to topic.
func (p *Publisher) Events(topic string) ([]screenshot.CaptureEvent, error) {
	var events []screenshot.CaptureEvent
	for _, msg := range p.Messages() {
		if msg.Topic != topic {
			continue
		}
		var event screenshot.CaptureEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.ID, err)
		}
		events = append(events, event)
	}
	return events, nil
}
