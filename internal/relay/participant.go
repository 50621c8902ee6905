package relay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrParticipantClosed is returned when a send targets a participant that has left its game.
var ErrParticipantClosed = errors.New("participant is closed")

// State is the lifecycle state of a participant connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transport is the part of a *websocket.Conn a Participant writes through.
// The transport itself is owned by the connection handler, not by the relay.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Participant is one connection taking part in a game. The game ID is captured
// once when the connection is accepted and never re-derived afterwards.
type Participant struct {
	id        string
	gameID    string
	conn      Transport
	writeWait time.Duration

	// writeMu serializes every write to conn so that concurrent broadcasts
	// never interleave frames on the same outbound stream.
	writeMu sync.Mutex
	state   atomic.Int32
}

// NewParticipant wraps an accepted transport for the given game.
func NewParticipant(gameID string, conn Transport, writeWait time.Duration) *Participant {
	return &Participant{
		id:        uuid.NewString(),
		gameID:    gameID,
		conn:      conn,
		writeWait: writeWait,
	}
}

func (p *Participant) ID() string     { return p.id }
func (p *Participant) GameID() string { return p.gameID }

func (p *Participant) State() State {
	return State(p.state.Load())
}

// Send writes payload as a single text frame. A write failure closes the
// transport so that the read side reports the connection as gone.
func (p *Participant) Send(payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.State() != StateOpen {
		return ErrParticipantClosed
	}
	if p.writeWait > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeWait)); err != nil {
			p.conn.Close()
			return fmt.Errorf("set write deadline for participant %s: %w", p.id, err)
		}
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		p.conn.Close()
		return fmt.Errorf("write to participant %s: %w", p.id, err)
	}
	return nil
}

// Disconnect sends a close frame (best effort) and closes the transport.
func (p *Participant) Disconnect(code int, reason string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.State() == StateOpen {
		if p.writeWait > 0 {
			p.conn.SetWriteDeadline(time.Now().Add(p.writeWait))
		}
		p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	}
	p.conn.Close()
}

func (p *Participant) markOpen() bool {
	return p.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// markClosed moves the participant to Closed. It waits for an in-flight send
// to finish, so no write starts after it returns.
func (p *Participant) markClosed() bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return State(p.state.Swap(int32(StateClosed))) != StateClosed
}
