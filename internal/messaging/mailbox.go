package messaging

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotRegistered is returned when sending to a recipient with no queue.
	ErrNotRegistered = errors.New("recipient is not registered in mailbox")
	// ErrQueueFull is returned when the recipient's bounded queue is full.
	ErrQueueFull = errors.New("recipient queue is full")
	// ErrUnknownMessage is returned for acks of messages the mailbox never saw.
	ErrUnknownMessage = errors.New("unknown message id")
)

// Mailbox routes messages between workers and the supervisor.
// Queues are bounded; per sender->recipient ordering is FIFO. Every sent
// message is appended to an audit log regardless of delivery outcome.
type Mailbox struct {
	mu      sync.Mutex
	buffer  int
	queues  map[string]chan Message
	seqs    map[string]int64    // "from->to" -> last assigned sequence
	pending map[string]*Message // Unacked messages by ID
	log     []Message           // Append-only audit trail

	now func() time.Time // Injectable clock for tests
}

// New creates a mailbox with the given per-recipient queue capacity.
func New(buffer int) *Mailbox {
	if buffer <= 0 {
		buffer = 64
	}
	return &Mailbox{
		buffer:  buffer,
		queues:  make(map[string]chan Message),
		seqs:    make(map[string]int64),
		pending: make(map[string]*Message),
		now:     time.Now,
	}
}

// Register creates (or returns) the delivery queue for a recipient.
func (m *Mailbox) Register(recipient string) <-chan Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.queues[recipient]; ok {
		return ch
	}
	ch := make(chan Message, m.buffer)
	m.queues[recipient] = ch
	return ch
}

// Unregister removes a recipient's queue and closes it.
// In-flight Critical messages addressed to the recipient are discarded from
// the pending set: a cancelled worker's mail is void.
func (m *Mailbox) Unregister(recipient string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.queues[recipient]
	if !ok {
		return
	}
	delete(m.queues, recipient)
	close(ch)

	for id, msg := range m.pending {
		if msg.To == recipient {
			delete(m.pending, id)
		}
	}
}

// Send assigns the message its ID, pair sequence, and timestamp, enqueues it,
// and appends it to the audit log. Critical and Question messages enter the
// pending set until acknowledged.
func (m *Mailbox) Send(from, to string, kind Kind, payload string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.queues[to]
	if !ok {
		return Message{}, ErrNotRegistered
	}

	pair := from + "->" + to
	m.seqs[pair]++
	msg := newMessage(from, to, kind, payload, m.seqs[pair], m.now())

	select {
	case ch <- msg:
	default:
		m.seqs[pair]-- // Roll back the sequence on a full queue
		return Message{}, ErrQueueFull
	}

	m.log = append(m.log, msg)
	if kind == Critical || kind == Question {
		tracked := msg
		m.pending[msg.ID] = &tracked
	}
	return msg, nil
}

// Ack marks a message acknowledged and removes it from the pending set.
func (m *Mailbox) Ack(messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.pending[messageID]
	if !ok {
		return ErrUnknownMessage
	}

	msg.AckAt = m.now()
	for i := range m.log {
		if m.log[i].ID == messageID {
			m.log[i].AckAt = msg.AckAt
			break
		}
	}
	delete(m.pending, messageID)
	return nil
}

// UnackedCritical returns Critical messages that have been waiting for an ack
// longer than the given age, oldest first.
func (m *Mailbox) UnackedCritical(olderThan time.Duration) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	var stale []Message
	for _, msg := range m.pending {
		if msg.Kind == Critical && msg.SentAt.Before(cutoff) {
			stale = append(stale, *msg)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].SentAt.Before(stale[j].SentAt) })
	return stale
}

// Resend re-enqueues a pending message marked URGENT. The resent copy keeps
// the original ID and sequence so an ack of either delivery settles it.
func (m *Mailbox) Resend(messageID string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.pending[messageID]
	if !ok {
		return Message{}, ErrUnknownMessage
	}
	ch, ok := m.queues[msg.To]
	if !ok {
		return Message{}, ErrNotRegistered
	}

	urgent := *msg
	urgent.Urgent = true

	select {
	case ch <- urgent:
	default:
		return Message{}, ErrQueueFull
	}

	msg.Urgent = true
	m.log = append(m.log, urgent)
	return urgent, nil
}

// Log returns a copy of the audit trail in send order.
func (m *Mailbox) Log() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.log...)
}
