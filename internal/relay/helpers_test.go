package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"
)

var errBrokenPipe = errors.New("broken pipe")

type fakeTransport struct {
	mu       sync.Mutex
	messages []string
	writeErr error
	closed   bool

	delay      time.Duration
	inFlight   atomic.Int32
	overlapped atomic.Bool
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	if f.inFlight.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	defer f.inFlight.Add(-1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.messages = append(f.messages, string(data))
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestParticipant(gameID string) (*Participant, *fakeTransport) {
	t := &fakeTransport{}
	return NewParticipant(gameID, t, time.Second), t
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(evt Event) {
	m.Called(evt)
}

// recordingNotifier keeps events in order for assertions on sequences.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingNotifier) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

// stallingNotifier records events and holds up the first participant_left
// long enough for a concurrent Open to try to slip in.
type stallingNotifier struct {
	recordingNotifier
	once    sync.Once
	leaving chan struct{}
}

func (s *stallingNotifier) Notify(evt Event) {
	if evt.Type == EventParticipantLeft {
		s.once.Do(func() {
			close(s.leaving)
			time.Sleep(50 * time.Millisecond)
		})
	}
	s.recordingNotifier.Notify(evt)
}

func (r *recordingNotifier) recorded() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
