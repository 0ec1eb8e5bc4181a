package bridge

import "time"

// MessageStatus tracks a posted reverse-channel message. The home side only
// ever moves a message from pending to relayed on the relayer's say-so;
// delivery on the foreign side is never observed here.
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusRelayed MessageStatus = "relayed"
)

// Reverse-channel operations invoked on the foreign proxy.
const (
	OpReceiveArbitrationAcknowledgement = "receiveArbitrationAcknowledgement"
	OpReceiveArbitrationCancelation     = "receiveArbitrationCancelation"
)

// Message mirrors the outbox table: one serialized reverse-channel call,
// addressed to the foreign proxy, waiting for an external relayer to pick it
// up and replay it.
type Message struct {
	ID        string
	Target    string
	ChainID   int64
	Operation string
	Payload   []byte
	Hash      string
	Status    MessageStatus
	Attempts  int
	CreatedAt time.Time
	RelayedAt *time.Time
}
