package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// currentVersion is written on new rows; DecodeEnvelope accepts 1..currentVersion.
const currentVersion = 1

// PayloadEnvelope is stored in funnel_outbox_events.payload and published
// verbatim as the Pub/Sub body. The body is self-describing so consumers can
// dedup on EventID without reading message attributes.
type PayloadEnvelope struct {
	Version     int             `json:"version"`
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType,omitempty"`
	AggregateID string          `json:"aggregateId,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
	SourceType  string          `json:"sourceType,omitempty"`
	Data        json.RawMessage `json:"data"`
}

func newEnvelope(event DomainEvent) (PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	env := PayloadEnvelope{
		Version:     event.Version,
		EventID:     uuid.NewString(),
		EventType:   string(event.EventType),
		AggregateID: event.AggregateID.String(),
		OccurredAt:  event.OccurredAt.UTC(),
		SourceType:  string(event.SourceType),
		Data:        data,
	}
	if env.Version == 0 {
		env.Version = currentVersion
	}
	if event.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	return env, nil
}

// DecodeEnvelope parses a stored payload and checks the fields every consumer
// relies on.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case env.EventID == "":
		return env, errors.New("envelope missing eventId")
	case env.Version < 1 || env.Version > currentVersion:
		return env, fmt.Errorf("unsupported envelope version %d", env.Version)
	case len(env.Data) == 0:
		return env, errors.New("envelope missing data")
	}
	return env, nil
}

// DecodeData strictly decodes the envelope data into dst; unknown fields fail
// so schema drift surfaces at publish time.
func (e PayloadEnvelope) DecodeData(dst any) error {
	dec := json.NewDecoder(bytes.NewReader(e.Data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
