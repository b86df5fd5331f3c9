// Package invalidation carries the cross-instance cache invalidation
// events and the fan-out transports that move them. Every subscriber sees
// every message; delivery is best-effort. A lost message only widens the
// staleness window of a peer's near tier: the far tier stays authoritative
// and entry TTLs still bound the staleness.
package invalidation

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Kind labels what happened to the key.
type Kind string

const (
	KindUpdate Kind = "Update"
	KindRemove Kind = "Remove"
	KindExpire Kind = "Expire"
)

// Event tells peers to drop a key from their near tiers. The JSON field
// names are the wire contract shared by every instance on the bus;
// consumers tolerate unknown fields.
type Event struct {
	Key       string    `json:"Key"`
	Type      Kind      `json:"Type"`
	Timestamp time.Time `json:"Timestamp"`
	Source    string    `json:"Source,omitempty"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(kind Kind, key, source string) Event {
	return Event{
		Key:       key,
		Type:      kind,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

// Valid reports whether the event is worth delivering: handlers ignore
// events without a key.
func (e Event) Valid() bool { return strings.TrimSpace(e.Key) != "" }

// Marshal encodes the event for transport.
func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

// Unmarshal decodes a wire payload, tolerating unknown fields.
func Unmarshal(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
