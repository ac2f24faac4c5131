// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package main

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/inventory"
	"github.com/tomtom215/shelfsync/internal/logging"
)

// AlertComponents is the stock alert pipe: the reconciler publishes on
// Publisher, the websocket relay consumes Subscriber.
type AlertComponents struct {
	Publisher  *inventory.AlertPublisher
	Subscriber message.Subscriber
	Topic      string
}

// InitAlerts creates the alert pipe for cfg.Inventory.AlertBackend. The
// nats backend needs natsURL (empty for the memory remote backend).
func InitAlerts(cfg *config.Config, natsURL string) (*AlertComponents, error) {
	topic := cfg.Inventory.AlertTopic

	switch cfg.Inventory.AlertBackend {
	case "channel":
		pub, pubSub := inventory.NewChannelAlertPublisher(topic)
		return &AlertComponents{Publisher: pub, Subscriber: pubSub, Topic: topic}, nil

	case "nats":
		if natsURL == "" {
			return nil, fmt.Errorf("nats alert backend requires the nats remote backend")
		}
		pub, err := inventory.NewNATSAlertPublisher(natsURL, topic)
		if err != nil {
			return nil, err
		}
		sub, err := inventory.NewNATSAlertSubscriber(natsURL)
		if err != nil {
			_ = pub.Close()
			return nil, err
		}
		return &AlertComponents{Publisher: pub, Subscriber: sub, Topic: topic}, nil

	default:
		return nil, fmt.Errorf("unknown alert backend %q", cfg.Inventory.AlertBackend)
	}
}

// Close closes both ends. The in-process GoChannel is both publisher and
// subscriber, so closing it twice is harmless.
func (a *AlertComponents) Close() {
	if a == nil {
		return
	}
	if err := a.Publisher.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close alert publisher")
	}
	if err := a.Subscriber.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close alert subscriber")
	}
}
