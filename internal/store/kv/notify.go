package kv

import (
	"strings"
	"sync"
)

// notifier fans out key-change notifications to prefix subscribers.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]subscription
}

type subscription struct {
	prefix string
	fn     func(key string)
}

func (n *notifier) subscribe(prefix string, fn func(key string)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[int]subscription)
	}
	id := n.next
	n.next++
	n.subs[id] = subscription{prefix: prefix, fn: fn}

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *notifier) publish(key string) {
	n.mu.Lock()
	var fns []func(string)
	for _, sub := range n.subs {
		if strings.HasPrefix(key, sub.prefix) {
			fns = append(fns, sub.fn)
		}
	}
	n.mu.Unlock()

	// Callbacks run outside the lock so a subscriber may re-read the store.
	for _, fn := range fns {
		fn(key)
	}
}
