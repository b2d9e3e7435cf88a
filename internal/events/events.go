// Package events is the in-process notification bus of the pipeline.
//
// Components publish typed change events ([EngineChanged], [SummaryUpdated],
// [JobStatusChanged], [RecordingRenamed]) on a [Bus]; interested consumers
// subscribe by event name. Out-of-process fan-out (Kafka, websocket clients)
// is built on top of the same subscription mechanism in the kafka and
// wsstream subpackages.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Name identifies an event type on the bus.
type Name string

const (
	NameEngineChanged    Name = "engine.changed"
	NameSummaryUpdated   Name = "summary.updated"
	NameJobStatusChanged Name = "job.status_changed"
	NameRecordingRenamed Name = "recording.renamed"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	// EventName returns the bus name of the event.
	EventName() Name

	// Key groups related events, e.g. by recording id. Forwarders use it as
	// the partition key.
	Key() string
}

// Publisher is the publishing half of a [Bus].
type Publisher interface {
	Publish(e Event)
}

// EngineChanged is published when the current summarization engine changes.
type EngineChanged struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

func (EngineChanged) EventName() Name { return NameEngineChanged }
func (EngineChanged) Key() string     { return "engine" }

// SummaryUpdated is published after a summary was persisted for a recording.
type SummaryUpdated struct {
	RecordingID string    `json:"recording_id"`
	Engine      string    `json:"engine"`
	Degraded    bool      `json:"degraded"`
	At          time.Time `json:"at"`
}

func (SummaryUpdated) EventName() Name { return NameSummaryUpdated }
func (e SummaryUpdated) Key() string  { return e.RecordingID }

// JobStatusChanged is published on every transcription job state transition.
type JobStatusChanged struct {
	JobID       string    `json:"job_id"`
	RecordingID string    `json:"recording_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Reason      string    `json:"reason,omitempty"`
	Locator     string    `json:"locator,omitempty"`
	At          time.Time `json:"at"`
}

func (JobStatusChanged) EventName() Name { return NameJobStatusChanged }
func (e JobStatusChanged) Key() string  { return e.RecordingID }

// RecordingRenamed is published when a recording's identity changes. In-flight
// jobs retarget to NewID.
type RecordingRenamed struct {
	OldID string    `json:"old_id"`
	NewID string    `json:"new_id"`
	At    time.Time `json:"at"`
}

func (RecordingRenamed) EventName() Name { return NameRecordingRenamed }
func (e RecordingRenamed) Key() string  { return e.NewID }

// Envelope is the wire form of an event used by external forwarders.
type Envelope struct {
	Name Name            `json:"name"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// Encode marshals e into a JSON [Envelope].
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", e.EventName(), err)
	}
	return json.Marshal(Envelope{Name: e.EventName(), Key: e.Key(), Data: data})
}

// Decode parses an [Envelope] produced by [Encode] back into a typed event.
func Decode(b []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("events: decode envelope: %w", err)
	}
	var (
		e   Event
		err error
	)
	switch env.Name {
	case NameEngineChanged:
		var v EngineChanged
		err = json.Unmarshal(env.Data, &v)
		e = v
	case NameSummaryUpdated:
		var v SummaryUpdated
		err = json.Unmarshal(env.Data, &v)
		e = v
	case NameJobStatusChanged:
		var v JobStatusChanged
		err = json.Unmarshal(env.Data, &v)
		e = v
	case NameRecordingRenamed:
		var v RecordingRenamed
		err = json.Unmarshal(env.Data, &v)
		e = v
	default:
		return nil, fmt.Errorf("events: decode: unknown event %q", env.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("events: decode %s: %w", env.Name, err)
	}
	return e, nil
}
