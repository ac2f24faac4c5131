// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/shelfsync/internal/logging"
)

// Alert is raised when an item moves into a worse stock band.
type Alert struct {
	ItemID       string    `json:"itemId"`
	Name         string    `json:"name,omitempty"`
	Band         Band      `json:"band"`
	PreviousBand Band      `json:"previousBand"`
	Quantity     int       `json:"quantity"`
	PreviousQty  int       `json:"previousQty"`
	ReorderLevel int       `json:"reorderLevel"`
	Reason       string    `json:"reason,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	At           time.Time `json:"at"`
}

// AlertPublisher sends alerts as JSON Watermill messages.
type AlertPublisher struct {
	publisher message.Publisher
	topic     string

	mu     sync.RWMutex
	closed bool
}

// NewAlertPublisher publishes alerts to topic on publisher.
func NewAlertPublisher(publisher message.Publisher, topic string) *AlertPublisher {
	return &AlertPublisher{publisher: publisher, topic: topic}
}

// NewChannelAlertPublisher publishes alerts in-process. The returned
// GoChannel is where notifiers subscribe.
func NewChannelAlertPublisher(topic string) (*AlertPublisher, *gochannel.GoChannel) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewSlogLogger(logging.NewSlogLogger()),
	)
	return NewAlertPublisher(pubSub, topic), pubSub
}

// NewNATSAlertPublisher publishes alerts on a NATS subject. Alerts are
// notifications, so they go over core NATS without a JetStream stream.
func NewNATSAlertPublisher(url, topic string) (*AlertPublisher, error) {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL: url,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(2 * time.Second),
		},
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create alert publisher: %w", err)
	}
	return NewAlertPublisher(pub, topic), nil
}

// NewNATSAlertSubscriber subscribes to alerts published by
// NewNATSAlertPublisher, possibly from another device.
func NewNATSAlertSubscriber(url string) (message.Subscriber, error) {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(2 * time.Second),
		},
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create alert subscriber: %w", err)
	}
	return sub, nil
}

// Publish implements Notifier.
func (p *AlertPublisher) Publish(ctx context.Context, a Alert) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("alert publisher is closed")
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	msg.Metadata.Set("item_id", a.ItemID)
	msg.Metadata.Set("band", string(a.Band))
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set("correlation_id", id)
	}

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish alert for %s: %w", a.ItemID, err)
	}
	return nil
}

// Close closes the underlying publisher.
func (p *AlertPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// DecodeAlert parses an alert message payload.
func DecodeAlert(msg *message.Message) (Alert, error) {
	var a Alert
	if err := json.Unmarshal(msg.Payload, &a); err != nil {
		return Alert{}, fmt.Errorf("decode alert %s: %w", msg.UUID, err)
	}
	return a, nil
}
