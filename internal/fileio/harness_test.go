package fileio

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/navlink/fioctl/pkg/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLink implements Link in memory. Outgoing messages are recorded and
// optionally handed to a send hook; incoming messages are injected with
// deliver, which dispatches to registered handlers like the real link does.
type fakeLink struct {
	mu       sync.Mutex
	handlers map[uint16][]fakeReg
	nextID   int
	sent     []wire.Message
	sendHook func(wire.Message)
}

type fakeReg struct {
	id int
	fn func(wire.Message)
}

func newFakeLink() *fakeLink {
	return &fakeLink{handlers: make(map[uint16][]fakeReg)}
}

func (l *fakeLink) Send(m wire.Message) error {
	l.mu.Lock()
	l.sent = append(l.sent, m)
	hook := l.sendHook
	l.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return nil
}

func (l *fakeLink) Register(msgType uint16, fn func(wire.Message)) (cancel func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers[msgType] = append(l.handlers[msgType], fakeReg{id: id, fn: fn})
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

func (l *fakeLink) WaitFor(msgType uint16, timeout time.Duration) (wire.Message, bool) {
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
	}
}

func (l *fakeLink) deliver(m wire.Message) {
	l.mu.Lock()
	regs := append([]fakeReg(nil), l.handlers[m.MsgType()]...)
	l.mu.Unlock()
	for _, reg := range regs {
		reg.fn(m)
	}
}

func (l *fakeLink) setSendHook(fn func(wire.Message)) {
	l.mu.Lock()
	l.sendHook = fn
	l.mu.Unlock()
}

func (l *fakeLink) sentMsgs() []wire.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]wire.Message(nil), l.sent...)
}

// startDevice runs a single device goroutine that consumes everything the
// client sends and delivers whatever respond returns. respond always runs on
// that one goroutine, so device state needs no locking; read it only after
// stop returns.
func startDevice(l *fakeLink, respond func(wire.Message) []wire.Message) (stop func()) {
	in := make(chan wire.Message, 256)
	l.setSendHook(func(m wire.Message) { in <- m })
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range in {
			for _, resp := range respond(m) {
				l.deliver(resp)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.setSendHook(nil)
			close(in)
			<-done
		})
	}
}

// shortTimeouts shrinks the repeater timing knobs for the test's duration.
func shortTimeouts(t interface {
	Cleanup(func())
}, timeout, tick time.Duration) {
	oldTimeout, oldTick := chunkTimeout, pollInterval
	chunkTimeout, pollInterval = timeout, tick
	t.Cleanup(func() { chunkTimeout, pollInterval = oldTimeout, oldTick })
}
