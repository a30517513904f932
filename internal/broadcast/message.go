// Package broadcast delivers change notifications between shoebox processes
// sharing a data directory. Delivery is best-effort: messages carry no
// payload beyond identifiers, late joiners see no replay, and a lost message
// costs at most a stale cache entry until the next sync.
package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/shoeboxhq/shoebox-go/internal/entity"
)

// Message types. Entity messages identify what changed; the receiver
// re-reads state from the database rather than trusting a payload.
const (
	TypeEntityCreated   = "entity-created"
	TypeEntityUpdated   = "entity-updated"
	TypeEntityDeleted   = "entity-deleted"
	TypeSyncCompleted   = "sync-completed"
	TypeAuthChanged     = "auth-changed"
	TypeSettingsChanged = "settings-changed"
)

// Message is one cross-process notification. Kind and EntityID are set only
// for the entity-* types. Sender and SentAt are stamped by the publishing
// Broadcaster; senders never receive their own messages back.
type Message struct {
	Type     string      `json:"type"`
	Kind     entity.Kind `json:"kind,omitempty"`
	EntityID string      `json:"entity_id,omitempty"`
	Sender   string      `json:"sender"`
	SentAt   int64       `json:"sent_at"`
}

// EntityCreated builds an entity-created message for kind/id.
func EntityCreated(kind entity.Kind, id string) Message {
	return Message{Type: TypeEntityCreated, Kind: kind, EntityID: id}
}

// EntityUpdated builds an entity-updated message for kind/id.
func EntityUpdated(kind entity.Kind, id string) Message {
	return Message{Type: TypeEntityUpdated, Kind: kind, EntityID: id}
}

// EntityDeleted builds an entity-deleted message for kind/id.
func EntityDeleted(kind entity.Kind, id string) Message {
	return Message{Type: TypeEntityDeleted, Kind: kind, EntityID: id}
}

// isEntityType reports whether t is one of the entity-* message types.
func isEntityType(t string) bool {
	switch t {
	case TypeEntityCreated, TypeEntityUpdated, TypeEntityDeleted:
		return true
	}

	return false
}

// Validate checks structural requirements before a message is published.
func (m Message) Validate() error {
	switch m.Type {
	case TypeEntityCreated, TypeEntityUpdated, TypeEntityDeleted:
		if _, err := entity.ParseKind(string(m.Kind)); err != nil {
			return fmt.Errorf("broadcast: %s message: %w", m.Type, err)
		}

		if m.EntityID == "" {
			return fmt.Errorf("broadcast: %s message missing entity id", m.Type)
		}
	case TypeSyncCompleted, TypeAuthChanged, TypeSettingsChanged:
		// Signal-only types carry no entity reference.
	default:
		return fmt.Errorf("broadcast: unknown message type %q", m.Type)
	}

	return nil
}

// encode serializes a message for the wire.
func encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("broadcast: encoding message: %w", err)
	}

	return data, nil
}

// decode parses a wire frame back into a Message. Frames from newer versions
// with unknown types decode fine; the broadcaster drops them after Validate.
func decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("broadcast: decoding message: %w", err)
	}

	return m, nil
}
