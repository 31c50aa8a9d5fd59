// Package link dispatches framed device messages over a byte stream.
//
// A Link owns one reader goroutine that decodes frames and hands each message,
// synchronously on that goroutine, to every handler registered for its type.
// Protocol code built on the link therefore sees all replies from a single,
// fixed goroutine.
package link

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/navlink/fioctl/pkg/wire"
)

type registration struct {
	id int
	fn func(wire.Message)
}

// Link sends and receives typed messages over a single byte stream.
type Link struct {
	enc    *wire.Encoder
	rwc    io.ReadWriteCloser
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[uint16][]registration
	nextID   int
	closed   bool

	done chan struct{}
}

// New starts a link over rw. The caller keeps ownership of nothing: Close
// closes rw and stops the reader goroutine.
func New(rw io.ReadWriteCloser, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Link{
		enc:      wire.NewEncoder(rw, wire.DefaultSender),
		rwc:      rw,
		logger:   logger,
		handlers: make(map[uint16][]registration),
		done:     make(chan struct{}),
	}
	go l.readLoop(wire.NewDecoder(rw))
	return l
}

func (l *Link) readLoop(dec *wire.Decoder) {
	defer close(l.done)
	for {
		fr, err := dec.Next()
		if err != nil {
			if errors.Is(err, wire.ErrBadCRC) {
				l.logger.Debug("dropping corrupt frame")
				continue
			}
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed && !errors.Is(err, io.EOF) {
				l.logger.Debug("link reader stopped", "err", err)
			}
			return
		}
		msg, err := wire.DecodeMessage(fr.MsgType, fr.Payload)
		if err != nil {
			l.logger.Debug("dropping undecodable frame", "type", fr.MsgType, "err", err)
			continue
		}
		l.dispatch(fr.MsgType, msg)
	}
}

func (l *Link) dispatch(msgType uint16, msg wire.Message) {
	l.mu.Lock()
	regs := make([]registration, len(l.handlers[msgType]))
	copy(regs, l.handlers[msgType])
	l.mu.Unlock()
	for _, reg := range regs {
		reg.fn(msg)
	}
}

// Send transmits one message.
func (l *Link) Send(msg wire.Message) error {
	return l.enc.Encode(msg)
}

// Register subscribes fn to incoming messages of the given type. Handlers run
// on the link's reader goroutine and must not block. The returned cancel func
// removes the subscription and is safe to call more than once.
func (l *Link) Register(msgType uint16, fn func(wire.Message)) (cancel func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers[msgType] = append(l.handlers[msgType], registration{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		regs := l.handlers[msgType]
		for i, reg := range regs {
			if reg.id == id {
				l.handlers[msgType] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// WaitFor blocks until one message of the given type arrives, the timeout
// elapses, or the link stops. It reports false on timeout or link shutdown.
func (l *Link) WaitFor(msgType uint16, timeout time.Duration) (wire.Message, bool) {
	ch := make(chan wire.Message, 1)
	var once sync.Once
	cancel := l.Register(msgType, func(m wire.Message) {
		once.Do(func() { ch <- m })
	})
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-ch:
		return m, true
	case <-timer.C:
		return nil, false
	case <-l.done:
		return nil, false
	}
}

// Close shuts the underlying stream down and stops the reader goroutine.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	err := l.rwc.Close()
	<-l.done
	return err
}
