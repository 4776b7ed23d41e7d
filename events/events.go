package events

import "sync"

// Handler receives the payload of an emitted event.
type Handler func(payload any)

// Publisher dispatches named events.
type Publisher interface {
	Emit(event string, payload any)
}

// Subscriber registers handlers for named events. The returned function removes
// the registration and is safe to call more than once.
type Subscriber interface {
	Subscribe(event string, handler Handler) (unsubscribe func())
}

type subscription struct {
	id      uint64
	handler Handler
}

// Channel is a synchronous publish/subscribe primitive. Handlers run on the
// emitting goroutine in subscription order. The zero value is ready to use.
type Channel struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]subscription
}

// New returns an empty Channel.
func New() *Channel {
	return &Channel{handlers: make(map[string][]subscription)}
}

func (c *Channel) Subscribe(event string, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	c.mu.Lock()
	if c.handlers == nil {
		c.handlers = make(map[string][]subscription)
	}
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], subscription{id: id, handler: handler})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.remove(event, id) })
	}
}

// Emit invokes every handler registered for event at the time of the call.
// Handlers added or removed while dispatching take effect on the next Emit.
func (c *Channel) Emit(event string, payload any) {
	c.mu.Lock()
	subs := c.handlers[event]
	snapshot := make([]Handler, len(subs))
	for i, sub := range subs {
		snapshot[i] = sub.handler
	}
	c.mu.Unlock()

	for _, handler := range snapshot {
		handler(payload)
	}
}

// Count reports how many handlers are registered for event.
func (c *Channel) Count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

// Clear drops every registration.
func (c *Channel) Clear() {
	c.mu.Lock()
	c.handlers = make(map[string][]subscription)
	c.mu.Unlock()
}

func (c *Channel) remove(event string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.handlers[event]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		kept := make([]subscription, 0, len(subs)-1)
		kept = append(kept, subs[:i]...)
		kept = append(kept, subs[i+1:]...)
		if len(kept) == 0 {
			delete(c.handlers, event)
		} else {
			c.handlers[event] = kept
		}
		return
	}
}
