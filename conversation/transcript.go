package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/korylprince/tevor-concierge/api"
	"github.com/korylprince/tevor-concierge/service"
)

// EventKind is the kind of a transcript Event
type EventKind int

// EventKinds
const (
	EventAppended EventKind = iota
	EventUpdated
	EventReplaced
	EventComponent
	EventComponentsCleared
	EventValidation
)

// RenderedComponent is a step component or quick action shown below the transcript.
// Exactly one of Component and Action is set.
type RenderedComponent struct {
	ID        string                    `json:"id"`
	ServiceID string                    `json:"service_id"`
	Component *service.Component        `json:"component,omitempty"`
	Action    *service.ActionDescriptor `json:"action,omitempty"`
}

// Event describes a change to a Transcript. Messages are copies.
type Event struct {
	Kind       EventKind
	Message    *api.Message
	Messages   []*api.Message
	Component  *RenderedComponent
	ServiceID  string
	Validation *service.Validation
}

// Observer receives transcript Events
type Observer func(Event)

// Transcript is the ordered message log of a conversation plus the currently rendered components.
// Observers are called in order with the Transcript locked and must not call back into it.
type Transcript struct {
	now func() time.Time

	mu         sync.Mutex
	seq        uint64
	messages   []*api.Message
	index      map[string]int
	components []*RenderedComponent
	observers  []Observer
}

// NewTranscript returns an empty Transcript. A nil now uses time.Now.
func NewTranscript(now func() time.Time) *Transcript {
	if now == nil {
		now = time.Now
	}
	return &Transcript{
		now:   now,
		index: make(map[string]int),
	}
}

// Subscribe adds o to the observers
func (t *Transcript) Subscribe(o Observer) {
	t.mu.Lock()
	t.observers = append(t.observers, o)
	t.mu.Unlock()
}

func (t *Transcript) notify(e Event) {
	for _, o := range t.observers {
		o(e)
	}
}

// newID returns a unique id whose prefix orders by creation
func (t *Transcript) newID() string {
	t.seq++
	return fmt.Sprintf("msg_%06d_%s", t.seq, uuid.NewString())
}

// Append adds a copy of m, assigning an id and creation time if unset, and returns the stored copy
func (t *Transcript) Append(m *api.Message) *api.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	stored := m.Clone()
	if stored.ID == "" {
		stored.ID = t.newID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = t.now()
	}
	stored.IsNewlyArrived = true

	t.index[stored.ID] = len(t.messages)
	t.messages = append(t.messages, stored)

	t.notify(Event{Kind: EventAppended, Message: stored.Clone()})
	return stored.Clone()
}

// Update applies f to the message with the given id in place. The id can't be changed.
func (t *Transcript) Update(id string, f func(*api.Message)) (*api.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[id]
	if !ok {
		return nil, false
	}

	m := t.messages[i]
	f(m)
	m.ID = id

	t.notify(Event{Kind: EventUpdated, Message: m.Clone()})
	return m.Clone(), true
}

// Replace replaces every message with copies of msgs, marked as not newly arrived
func (t *Transcript) Replace(msgs []*api.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = make([]*api.Message, 0, len(msgs))
	t.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		stored := m.Clone()
		if stored.ID == "" {
			stored.ID = t.newID()
		}
		stored.IsNewlyArrived = false
		t.index[stored.ID] = len(t.messages)
		t.messages = append(t.messages, stored)
	}

	t.notify(Event{Kind: EventReplaced, Messages: cloneAll(t.messages)})
}

// Get returns a copy of the message with the given id
func (t *Transcript) Get(id string) (*api.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.messages[i].Clone(), true
}

// Messages returns copies of all messages, oldest first
func (t *Transcript) Messages() []*api.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneAll(t.messages)
}

// Len returns the number of messages
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Recent returns copies of the last n messages, skipping messages still streaming
func (t *Transcript) Recent(n int) []*api.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var recent []*api.Message
	for i := len(t.messages) - 1; i >= 0 && len(recent) < n; i-- {
		if t.messages[i].IsStreaming() {
			continue
		}
		recent = append(recent, t.messages[i].Clone())
	}

	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent
}

// RenderComponent shows a step component for serviceID
func (t *Transcript) RenderComponent(serviceID string, c service.Component) *RenderedComponent {
	return t.render(&RenderedComponent{ServiceID: serviceID, Component: &c})
}

// RenderAction shows a quick action
func (t *Transcript) RenderAction(a service.ActionDescriptor) *RenderedComponent {
	return t.render(&RenderedComponent{ServiceID: a.ServiceID, Action: &a})
}

func (t *Transcript) render(rc *RenderedComponent) *RenderedComponent {
	t.mu.Lock()
	defer t.mu.Unlock()

	rc.ID = uuid.NewString()
	t.components = append(t.components, rc)

	cp := *rc
	t.notify(Event{Kind: EventComponent, Component: &cp, ServiceID: rc.ServiceID})
	return &cp
}

// ClearComponents removes all rendered components
func (t *Transcript) ClearComponents() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.components = nil
	t.notify(Event{Kind: EventComponentsCleared})
}

// Components returns the rendered components in render order
func (t *Transcript) Components() []RenderedComponent {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]RenderedComponent, len(t.components))
	for i, c := range t.components {
		out[i] = *c
	}
	return out
}

// ReportValidation sends field errors to the component that submitted them.
// Nothing is added to the transcript.
func (t *Transcript) ReportValidation(serviceID string, v service.Validation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.notify(Event{Kind: EventValidation, ServiceID: serviceID, Validation: &v})
}

func cloneAll(msgs []*api.Message) []*api.Message {
	out := make([]*api.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
