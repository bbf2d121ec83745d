// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"strings"

	"github.com/LeeDigitalWorks/tams/pkg/taskqueue"
	"github.com/LeeDigitalWorks/tams/pkg/timerange"
)

// EventType names a change notification.
type EventType string

const (
	EventSegmentsAdded   EventType = "flows/segments_added"
	EventSegmentsDeleted EventType = "flows/segments_deleted"
	EventFlowDeleted     EventType = "flows/deleted"
)

// Event is the message delivered to publishers.
type Event struct {
	// EventTimestamp is a TAMS "s:ns" timestamp of when the change happened.
	EventTimestamp string    `json:"event_timestamp"`
	EventType      string    `json:"event_type"`
	Event          EventBody `json:"event"`
	Sequencer      string    `json:"sequencer"`
}

type EventBody struct {
	FlowID    string `json:"flow_id"`
	Timerange string `json:"timerange,omitempty"`
	// Segments is the number of segments added or deleted.
	Segments int `json:"segments,omitempty"`
}

// BuildEvent converts a queued payload into its delivered form.
func BuildEvent(payload *taskqueue.EventPayload) *Event {
	return &Event{
		EventTimestamp: timerange.FromNanosec(payload.Timestamp * 1_000_000).String(),
		EventType:      payload.EventName,
		Event: EventBody{
			FlowID:    payload.FlowID,
			Timerange: payload.Timerange,
			Segments:  payload.Count,
		},
		Sequencer: payload.Sequencer,
	}
}

// MatchesEventType checks if an event name matches a pattern. A pattern
// ending in "*" matches by prefix, e.g. "flows/*".
func MatchesEventType(pattern EventType, eventName string) bool {
	p := string(pattern)
	if p == eventName {
		return true
	}
	if prefix, ok := strings.CutSuffix(p, "*"); ok {
		return strings.HasPrefix(eventName, prefix)
	}
	return false
}

// matchesAny reports whether eventName matches one of patterns. No patterns
// matches everything.
func matchesAny(patterns []string, eventName string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if MatchesEventType(EventType(p), eventName) {
			return true
		}
	}
	return false
}
