// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package websocket

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/shelfsync/internal/inventory"
	"github.com/tomtom215/shelfsync/internal/logging"
)

// AlertRelay forwards inventory alerts from a Watermill topic to the hub.
type AlertRelay struct {
	hub        *Hub
	subscriber message.Subscriber
	topic      string
}

// NewAlertRelay creates a relay.
func NewAlertRelay(hub *Hub, subscriber message.Subscriber, topic string) *AlertRelay {
	return &AlertRelay{hub: hub, subscriber: subscriber, topic: topic}
}

// Serve implements suture.Service.
func (r *AlertRelay) Serve(ctx context.Context) error {
	messages, err := r.subscriber.Subscribe(ctx, r.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.topic, err)
	}
	logging.Info().Str("topic", r.topic).Msg("Inventory alert relay started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("subscription to %s closed", r.topic)
			}
			alert, err := inventory.DecodeAlert(msg)
			if err != nil {
				// Redelivery cannot fix a bad payload.
				logging.Warn().Err(err).Msg("Dropping undecodable alert")
				msg.Ack()
				continue
			}
			r.hub.BroadcastJSON(MessageTypeInventoryAlert, alert)
			msg.Ack()
		}
	}
}

// String implements fmt.Stringer.
func (r *AlertRelay) String() string {
	return "alert-relay"
}
