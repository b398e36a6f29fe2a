package api

import (
	"sync"

	"autoplan/internal/planning"
)

type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans planning events out to the streams of one requester.
type EventBroker interface {
	Subscribe(requester string) chan SSEEvent
	Unsubscribe(requester string, ch chan SSEEvent)
	Publish(requester string, evt SSEEvent)
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // requester -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(requester string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[requester] == nil {
		b.subs[requester] = map[chan SSEEvent]struct{}{}
	}
	b.subs[requester][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(requester string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[requester]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, requester)
	}
	close(ch)
}

// Publish never blocks; slow subscribers miss events.
func (b *Broker) Publish(requester string, evt SSEEvent) {
	b.mu.Lock()
	for ch := range b.subs[requester] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}

// BrokerSink publishes planning status changes to the job owner's streams.
type BrokerSink struct {
	Broker EventBroker
}

func (s BrokerSink) Notify(ev planning.Event) {
	s.Broker.Publish(ev.Job.Requester, jobEvent(ev.Type, ev.Job.ID, ev.Job.PlanDate, string(ev.Job.Status), ev.Job.Consumed))
}

func jobEvent(typ, id, date, status string, consumed bool) SSEEvent {
	return SSEEvent{Type: typ, Data: map[string]any{
		"planningId":   id,
		"planningDate": date,
		"status":       status,
		"consumed":     consumed,
	}}
}
