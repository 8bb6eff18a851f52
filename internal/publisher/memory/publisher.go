// Package memory provides the in-process publisher used when no Pub/Sub
// topic is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const defaultHistory = 50

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Event   string
	Payload json.RawMessage
}

// Publisher keeps the most recent messages and logs each publish.
type Publisher struct {
	mu       sync.RWMutex
	seq      int
	history  int
	messages []PublishedMessage
	logger   *zap.Logger
}

// New returns a Publisher retaining up to history messages (50 when <= 0).
func New(history int, logger *zap.Logger) *Publisher {
	if history <= 0 {
		history = defaultHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{history: history, logger: logger.Named("publisher.memory")}
}

// Publish records the JSON form of payload and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, event string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, PublishedMessage{ID: id, Event: event, Payload: data})
	if over := len(p.messages) - p.history; over > 0 {
		p.messages = append([]PublishedMessage(nil), p.messages[over:]...)
	}
	p.mu.Unlock()

	p.logger.Info("published", zap.String("event", event), zap.String("id", id), zap.Int("bytes", len(data)))
	return id, nil
}

// Messages returns a copy of the retained messages, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
