// Package v1 defines the wastewise realtime protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the client core and tooling to keep the wire shape authoritative.
//
// Every frame on the live channel carries exactly one JSON Envelope:
//
//	{"type": "pickup_accepted", "data": {...}, "timestamp": "2026-10-19T10:00:00Z"}
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wastewise/shared/contracts/isotime"
)

// Kind is one value of the closed set of event kinds.
type Kind string

// Kind constants (wire-stable).
const (
	// KindPickupCreated announces a newly scheduled pickup request.
	KindPickupCreated Kind = "pickup_created"
	// KindPickupAccepted is sent when a collector accepts a pickup.
	KindPickupAccepted Kind = "pickup_accepted"
	// KindPickupRejected is sent when a pickup was declined.
	KindPickupRejected Kind = "pickup_rejected"
	// KindCollectorLocation streams the assigned collector's position.
	KindCollectorLocation Kind = "collector_location"
	// KindPickupCollected is sent once the waste has been picked up.
	KindPickupCollected Kind = "pickup_collected"
	// KindPickupCompleted closes a pickup (verified and settled).
	KindPickupCompleted Kind = "pickup_completed"
	// KindPickupCancelled is sent when either side cancels.
	KindPickupCancelled Kind = "pickup_cancelled"
	// KindRewardEarned credits reward points to the user.
	KindRewardEarned Kind = "reward_earned"
	// KindClassificationReady delivers an asynchronous photo classification result.
	KindClassificationReady Kind = "classification_ready"
	// KindNotification is a generic user-facing notice.
	KindNotification Kind = "notification"
)

// KindAll is the wildcard subscription key. It is never a valid envelope type.
const KindAll Kind = "all"

var knownKinds = map[Kind]struct{}{
	KindPickupCreated:       {},
	KindPickupAccepted:      {},
	KindPickupRejected:      {},
	KindCollectorLocation:   {},
	KindPickupCollected:     {},
	KindPickupCompleted:     {},
	KindPickupCancelled:     {},
	KindRewardEarned:        {},
	KindClassificationReady: {},
	KindNotification:        {},
}

// Kinds returns every known event kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindPickupCreated,
		KindPickupAccepted,
		KindPickupRejected,
		KindCollectorLocation,
		KindPickupCollected,
		KindPickupCompleted,
		KindPickupCancelled,
		KindRewardEarned,
		KindClassificationReady,
		KindNotification,
	}
}

// Valid reports whether k belongs to the closed kind set.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// Envelope is the canonical wire wrapper.
// Envelopes are immutable once decoded; Data is shared by every subscriber.
// Data is always a JSON object. Timestamp accepts ISO-8601 with or without
// an offset; offset-less values are UTC.
type Envelope struct {
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp isotime.Time    `json:"timestamp"`

	// ID is set on client-originated frames only (correlation in server logs).
	ID string `json:"id,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(string(e.Type)) == "" {
		return errors.New("missing field: type")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	if err := checkObject(e.Data); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		return errors.New("missing field: timestamp")
	}
	return nil
}

func checkObject(data json.RawMessage) error {
	d := bytes.TrimSpace(data)
	if len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return errors.New("missing field: data")
	}
	if d[0] != '{' {
		return errors.New("data must be a JSON object")
	}
	return nil
}

// Decode parses one frame into an Envelope and validates it.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("bad json: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("bad envelope: %w", err)
	}
	return env, nil
}

// New builds an envelope with data marshalled from v, which must encode as
// a JSON object.
func New(kind Kind, v any, ts time.Time) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	if err := checkObject(data); err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: kind, Data: data, Timestamp: isotime.From(ts.UTC())}, nil
}

// DecodeData unmarshals the envelope payload into dst.
func (e Envelope) DecodeData(dst any) error {
	if len(e.Data) == 0 {
		return errors.New("empty data")
	}
	return json.Unmarshal(e.Data, dst)
}
