// Package messaging implements the team mailbox: bounded per-recipient
// queues with acknowledgment tracking and per-pair FIFO ordering.
package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Supervisor is the reserved recipient ID for the lead control loop.
const Supervisor = "supervisor"

// Kind classifies a message.
type Kind string

const (
	// Info messages are informational; they may be batched or deferred and
	// are never acknowledged individually.
	Info Kind = "info"
	// Question messages request an answer from the recipient.
	Question Kind = "question"
	// Critical messages must be acknowledged within the configured window or
	// they escalate.
	Critical Kind = "critical"
)

// Message is one mailbox entry. Seq is a monotonically increasing sequence
// number per sender->recipient pair; messages between two specific parties
// are delivered and acknowledged in send order.
type Message struct {
	ID      string
	Seq     int64
	From    string
	To      string
	Kind    Kind
	Payload string
	Urgent  bool // Set when a Critical message is resent after an ack timeout
	SentAt  time.Time
	AckAt   time.Time // Zero until acknowledged
}

// Acked reports whether the message has been acknowledged.
func (m Message) Acked() bool {
	return !m.AckAt.IsZero()
}

func newMessage(from, to string, kind Kind, payload string, seq int64, now time.Time) Message {
	return Message{
		ID:      uuid.NewString(),
		Seq:     seq,
		From:    from,
		To:      to,
		Kind:    kind,
		Payload: payload,
		SentAt:  now,
	}
}
