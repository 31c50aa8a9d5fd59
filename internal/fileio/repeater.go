package fileio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/navlink/fioctl/pkg/wire"
)

const (
	// WindowSize bounds the number of chunk requests in flight at once.
	WindowSize = 40

	// maxTries is the retry budget per chunk. A chunk that has been
	// retransmitted this many times and times out again fails the whole
	// operation.
	maxTries = 3
)

// Timing knobs. Vars so tests can shrink them.
var (
	// chunkTimeout is how long a chunk may go unacknowledged before it is
	// retransmitted.
	chunkTimeout = 5 * time.Second

	// pollInterval paces the retry scan while waiting for window space or
	// for the in-flight set to drain.
	pollInterval = 10 * time.Millisecond
)

// ErrChunkTimeout indicates a chunk that stayed unacknowledged through its
// whole retry budget. The operation it belonged to is aborted.
var ErrChunkTimeout = errors.New("chunk unacknowledged after retry budget")

// pending tracks one in-flight chunk request.
type pending struct {
	req    wire.Sequenced
	sentAt time.Time
	tries  int
	done   bool
}

// replyFunc is invoked once per acknowledged chunk with the original request
// and its reply. It runs on the link's reader goroutine.
type replyFunc func(req wire.Sequenced, reply wire.Message)

// repeater implements selective-repeat ARQ over a Link: it keeps at most
// WindowSize requests outstanding, retransmits individual chunks on timeout,
// and frees window space as correlated replies arrive.
//
// Two goroutines share it: the operation's goroutine calls Send and Flush and
// is the only one to add in-flight entries; the link's reader goroutine runs
// handleReply and is the only one to complete them. Window space travels
// between them through the slots channel.
type repeater struct {
	link    Link
	onReply replyFunc
	cancel  func()
	slots   chan struct{}

	timeout time.Duration
	tick    time.Duration
	now     func() time.Time

	mu       sync.Mutex
	inflight map[uint32]*pending
}

// newRepeater subscribes to replies of respType for its lifetime; the caller
// must Close it when the operation's scope ends, on every path.
func newRepeater(link Link, respType uint16, onReply replyFunc) *repeater {
	r := &repeater{
		link:     link,
		onReply:  onReply,
		slots:    make(chan struct{}, WindowSize),
		timeout:  chunkTimeout,
		tick:     pollInterval,
		now:      time.Now,
		inflight: make(map[uint32]*pending),
	}
	for i := 0; i < WindowSize; i++ {
		r.slots <- struct{}{}
	}
	r.cancel = link.Register(respType, r.handleReply)
	return r
}

// Close releases the reply subscription.
func (r *repeater) Close() { r.cancel() }

// Send blocks until window space is available, then transmits req and starts
// tracking it. Waiting is interleaved with the retry scan, so a stalled
// window surfaces ErrChunkTimeout here rather than hanging.
func (r *repeater) Send(ctx context.Context, req wire.Sequenced) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-r.slots:
			r.mu.Lock()
			r.inflight[req.Seq()] = &pending{req: req, sentAt: r.now()}
			r.mu.Unlock()
			return r.link.Send(req)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.scan(); err != nil {
				return err
			}
		}
	}
}

// Flush blocks until every in-flight request has been acknowledged. With
// nothing in flight it returns immediately.
func (r *repeater) Flush(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		r.mu.Lock()
		n := len(r.inflight)
		r.mu.Unlock()
		if n == 0 {
			return nil
		}
		if err := r.scan(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// scan retransmits chunks older than the timeout and fails once a chunk
// exhausts its retry budget. Retransmissions go out after the lock is
// released so the reply handler is never blocked on the transport.
func (r *repeater) scan() error {
	now := r.now()
	var resend []wire.Sequenced
	r.mu.Lock()
	for _, p := range r.inflight {
		if p.done || now.Sub(p.sentAt) <= r.timeout {
			continue
		}
		if p.tries >= maxTries {
			r.mu.Unlock()
			return fmt.Errorf("seq %d, %d transmissions: %w", p.req.Seq(), p.tries+1, ErrChunkTimeout)
		}
		p.tries++
		p.sentAt = now
		resend = append(resend, p.req)
	}
	r.mu.Unlock()

	for _, req := range resend {
		if err := r.link.Send(req); err != nil {
			return fmt.Errorf("retransmit seq %d: %w", req.Seq(), err)
		}
	}
	return nil
}

// handleReply completes at most one in-flight entry per reply: it invokes the
// per-chunk callback with the paired request, then retires the entry and
// returns its window slot. Runs on the link's reader goroutine.
func (r *repeater) handleReply(reply wire.Message) {
	sq, ok := reply.(wire.Sequenced)
	if !ok {
		return
	}
	r.mu.Lock()
	p, ok := r.inflight[sq.Seq()]
	if !ok || p.done {
		r.mu.Unlock()
		return
	}
	p.done = true
	r.mu.Unlock()

	if r.onReply != nil {
		r.onReply(p.req, reply)
	}

	// Retire after the callback so Flush cannot return while a chunk is
	// still being integrated.
	r.mu.Lock()
	delete(r.inflight, sq.Seq())
	r.mu.Unlock()
	r.slots <- struct{}{}
}
