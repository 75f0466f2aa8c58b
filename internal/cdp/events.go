package cdp

import (
	"encoding/json"
	"sync"
)

// Event method names the page facade subscribes to.
const (
	EventRequestWillBeSent = "Network.requestWillBeSent"
	EventResponseReceived  = "Network.responseReceived"
	EventLoadingFinished   = "Network.loadingFinished"
	EventLoadingFailed     = "Network.loadingFailed"
	EventLoadEventFired    = "Page.loadEventFired"
	EventTargetDetached    = "Inspector.detached"
)

// Event is an unsolicited message from the browser.
type Event struct {
	Method string
	Params json.RawMessage
}

// Decode unmarshals the event params into v, typically a lib/proto event struct.
func (e *Event) Decode(v interface{}) error {
	if len(e.Params) == 0 {
		return nil
	}
	return json.Unmarshal(e.Params, v)
}

// EventHandler receives events. Handlers run on the reader goroutine and
// must not block or issue commands on the same client.
type EventHandler func(*Event)

type listener struct {
	id      uint64
	method  string // empty matches every method
	handler EventHandler
}

// listeners is the subscription registry.
type listeners struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []listener
}

func (l *listeners) add(method string, fn EventHandler) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, listener{id: id, method: method, handler: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listeners) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, sub := range l.subs {
		if sub.id == id {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			return
		}
	}
}

// emit delivers ev and reports whether any listener matched.
func (l *listeners) emit(ev *Event) bool {
	l.mu.RLock()
	matched := make([]EventHandler, 0, len(l.subs))
	for _, sub := range l.subs {
		if sub.method == "" || sub.method == ev.Method {
			matched = append(matched, sub.handler)
		}
	}
	l.mu.RUnlock()

	for _, fn := range matched {
		fn(ev)
	}
	return len(matched) > 0
}

func (l *listeners) count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}
