package manager

import (
	"sync"

	"github.com/stplan/sheetsweep/internal/model"
)

// EventType discriminates live task events.
type EventType string

const (
	// EventLog carries a new task log entry.
	EventLog EventType = "log"
	// EventProgress carries a checkpoint update.
	EventProgress EventType = "progress"
	// EventStatus carries a task status change. A terminal status is the last
	// event of a stream.
	EventStatus EventType = "status"
)

// Event is one live task event.
type Event struct {
	Type   EventType
	TaskID string

	Log         *model.TaskLogEntry
	CurrentStep int
	TotalSteps  int
	Status      model.TaskStatus
}

// subscriber channels are buffered; a consumer that stops draining loses
// events instead of blocking the sweep.
const subscriberBuffer = 64

// Streams fans task events out to subscribers. It implements the sweep
// engine's events interface so running sweeps feed it directly.
type Streams struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewStreams creates an empty event stream hub.
func NewStreams() *Streams {
	return &Streams{subs: map[string]map[chan Event]struct{}{}}
}

// Subscribe registers a consumer for one task's events. The returned channel
// closes when the task reaches a terminal state. The cancel function must be
// called when the consumer stops listening early.
func (s *Streams) Subscribe(taskID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	subs, ok := s.subs[taskID]
	if !ok {
		subs = map[chan Event]struct{}{}
		s.subs[taskID] = subs
	}
	subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if subs, ok := s.subs[taskID]; ok {
				if _, live := subs[ch]; live {
					delete(subs, ch)
					close(ch)
				}
				if len(subs) == 0 {
					delete(s.subs, taskID)
				}
			}
		})
	}

	return ch, cancel
}

// Publish delivers an event to every subscriber of the task without blocking.
func (s *Streams) Publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subs[event.TaskID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close ends the stream of a task, closing every subscriber channel.
func (s *Streams) Close(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subs[taskID] {
		close(ch)
	}
	delete(s.subs, taskID)
}

// LogAppended implements the sweep engine events interface.
func (s *Streams) LogAppended(entry model.TaskLogEntry) {
	s.Publish(Event{Type: EventLog, TaskID: entry.TaskID, Log: &entry})
}

// ProgressChanged implements the sweep engine events interface.
func (s *Streams) ProgressChanged(taskID string, currentStep, totalSteps int) {
	s.Publish(Event{Type: EventProgress, TaskID: taskID, CurrentStep: currentStep, TotalSteps: totalSteps})
}
