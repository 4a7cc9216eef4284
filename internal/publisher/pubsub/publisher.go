// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Result is the subset of *pubsub.PublishResult the publisher waits on.
type Result interface {
	Get(ctx context.Context) (string, error)
}

// Topic is the subset of *pubsub.Topic used for publishing.
type Topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) Result
	Stop()
}

// Publisher marshals payloads to JSON and publishes them to Pub/Sub topics.
type Publisher struct {
	open func(id string) Topic

	mu     sync.Mutex
	topics map[string]Topic
}

// New wraps a Pub/Sub client; topics are opened on first use.
func New(client *pubsub.Client) *Publisher {
	return NewWithOpener(func(id string) Topic {
		return clientTopic{client.Topic(id)}
	})
}

// NewWithOpener builds a Publisher from a topic factory (primarily for testing).
func NewWithOpener(open func(id string) Topic) *Publisher {
	return &Publisher{open: open, topics: make(map[string]Topic)}
}

// Publish marshals the payload and waits for the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.open == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("pubsub topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content-type": "application/json"},
	}
	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes and stops every opened topic.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.topics {
		t.Stop()
		delete(p.topics, id)
	}
}

func (p *Publisher) topic(id string) Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[id]
	if !ok {
		t = p.open(id)
		p.topics[id] = t
	}
	return t
}

type clientTopic struct {
	t *pubsub.Topic
}

func (c clientTopic) Publish(ctx context.Context, msg *pubsub.Message) Result {
	return c.t.Publish(ctx, msg)
}

func (c clientTopic) Stop() {
	c.t.Stop()
}
