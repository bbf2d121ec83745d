// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/taskqueue"
)

// Publisher delivers events to one destination.
type Publisher interface {
	// Name identifies the publisher in metrics and logs.
	Name() string

	// Publish sends an event. flowID is used for routing and ordering.
	Publish(ctx context.Context, flowID string, event []byte) error

	Close() error
}

// NewPublishers connects every publisher enabled in cfg. Publishers already
// connected are closed if a later one fails.
func NewPublishers(cfg Config) ([]Publisher, error) {
	cfg.Validate()
	var pubs []Publisher
	if cfg.Redis.Enabled {
		p, err := NewRedisPublisher(cfg.Redis)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.Kafka.Enabled {
		p, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			closePublishers(pubs)
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}

func closePublishers(pubs []Publisher) error {
	var errs []error
	for _, p := range pubs {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// EventHandler processes event tasks by delivering them to every publisher.
type EventHandler struct {
	publishers []Publisher
	types      []string
}

// NewEventHandler delivers events whose type matches one of types; no types
// delivers everything.
func NewEventHandler(publishers []Publisher, types []string) *EventHandler {
	return &EventHandler{publishers: publishers, types: types}
}

func (h *EventHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeEvent
}

// Handle returns an error when any publisher fails, so the task is retried
// and publishers that already succeeded may see the event twice.
func (h *EventHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	log := logger.Ctx(ctx)

	payload, err := taskqueue.UnmarshalPayload[taskqueue.EventPayload](task.Payload)
	if err != nil {
		// Malformed payloads will never succeed.
		log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to unmarshal event payload")
		return nil
	}
	if !matchesAny(h.types, payload.EventName) {
		log.Debug().Str("event", payload.EventName).Msg("event type not delivered")
		return nil
	}

	data, err := json.Marshal(BuildEvent(&payload))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var errs []error
	for _, pub := range h.publishers {
		if err := pub.Publish(ctx, payload.FlowID, data); err != nil {
			EventsDeliveryErrorsTotal.WithLabelValues(pub.Name()).Inc()
			log.Warn().
				Err(err).
				Str("publisher", pub.Name()).
				Str("flow_id", payload.FlowID).
				Str("event", payload.EventName).
				Msg("failed to publish event")
			errs = append(errs, err)
			continue
		}
		EventsDeliveredTotal.WithLabelValues(pub.Name()).Inc()
	}
	return errors.Join(errs...)
}

// Close closes all publishers.
func (h *EventHandler) Close() error {
	return closePublishers(h.publishers)
}
