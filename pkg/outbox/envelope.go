package outbox

import (
	"encoding/json"
	"time"
)

// EnvelopeVersion is the current PayloadEnvelope layout.
const EnvelopeVersion = 1

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// published unchanged as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored payload.
func DecodeEnvelope(payload []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return PayloadEnvelope{}, err
	}
	return env, nil
}
