// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Session.
// Use Session to feed inbound messages and inspect the frames that were sent.
//
// Example:
//
//	sess := mock.NewSession(8)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(live.Message{Transcript: "hello"})
//	sess.Finish(nil)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/nexus/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session
	// with a 64-message buffer.
	Session live.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(64), nil
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

var _ live.Provider = (*Provider)(nil)

// ErrClosed is returned by Session.SendRealtimeInput after Close.
var ErrClosed = errors.New("mock: session closed")

// Session is a mock implementation of live.Session.
type Session struct {
	mu sync.Mutex

	messages chan live.Message
	err      error
	finished bool
	closed   bool

	// SendErr, if non-nil, is returned by SendRealtimeInput.
	SendErr error

	// Sent records every frame passed to SendRealtimeInput, in order.
	Sent []string

	// CloseCount is the number of Close calls.
	CloseCount int

	sent chan struct{}
}

// NewSession creates a Session whose inbound channel holds up to buffer
// messages.
func NewSession(buffer int) *Session {
	return &Session{
		messages: make(chan live.Message, buffer),
		sent:     make(chan struct{}, 1),
	}
}

// Push queues an inbound message. It blocks when the buffer is full and is a
// no-op after Finish or Close.
func (s *Session) Push(m live.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.messages <- m
}

// Finish ends the inbound stream as the remote side would. err becomes the
// value returned by Err; nil models a clean close.
func (s *Session) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.messages)
}

// SendRealtimeInput records data.
func (s *Session) SendRealtimeInput(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, data)
	select {
	case s.sent <- struct{}{}:
	default:
	}
	return nil
}

// SentFrames returns a copy of the frames sent so far.
func (s *Session) SentFrames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Sent...)
}

// SentSignal receives a value after at least one new frame was sent.
func (s *Session) SentSignal() <-chan struct{} { return s.sent }

// Messages returns the inbound channel.
func (s *Session) Messages() <-chan live.Message { return s.messages }

// Err returns the error passed to Finish.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and ends the inbound stream. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCount++
	s.closed = true
	s.mu.Unlock()
	s.Finish(nil)
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}

var _ live.Session = (*Session)(nil)
