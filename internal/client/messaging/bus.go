// Package messaging implements the in-process signal bus peer subsystems
// and the UI subscribe to: login/logout/lock lifecycle events, sync
// progress, and account-map broadcasts.
package messaging

import "sync"

// Topics published by the session/auth/state engine.
const (
	TopicLoggedIn                     = "loggedIn"
	TopicLoggedOut                    = "loggedOut"
	TopicLocked                       = "locked"
	TopicSyncStarted                  = "syncStarted"
	TopicSyncCompleted                = "syncCompleted"
	TopicConvertAccountToKeyConnector = "convertAccountToKeyConnector"
	TopicAccountsUpdated              = "accountsUpdated"
)

// Message is one published signal.
type Message struct {
	Topic   string
	Payload any
}

const subscriberBuffer = 64

// Bus fan-outs messages to subscribers. Sends never block: a subscriber
// that stops draining its channel loses messages instead of wedging the
// publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Message
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Message)}
}

// Subscribe returns a channel of future messages and a cancel function.
// The channel is closed on cancel.
func (b *Bus) Subscribe() (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Message, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Send publishes a message to all current subscribers.
func (b *Bus) Send(topic string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}
