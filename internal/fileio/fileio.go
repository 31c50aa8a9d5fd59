// Package fileio implements reliable file operations against a remote
// embedded device over a lossy message link. Reads and writes pipeline their
// chunks through a selective-repeat window to hide round-trip latency;
// directory listings page synchronously; removes are fire-and-forget.
package fileio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/navlink/fioctl/pkg/wire"
)

const (
	// readOverhead is the fixed portion of a read reply's payload (the
	// sequence field), bounding how many content bytes fit per chunk.
	readOverhead = 4

	// writeOverhead is the fixed portion of a write request's payload
	// (sequence, offset, filename separator).
	writeOverhead = 9
)

// dirTimeout bounds the synchronous wait for one listing page. Var so tests
// can shrink it.
var dirTimeout = time.Second

var (
	// ErrDirTimeout indicates no reply arrived for a listing page.
	ErrDirTimeout = errors.New("timed out waiting for directory page")
	// ErrDirMismatch indicates a listing reply correlating to no request.
	ErrDirMismatch = errors.New("directory reply does not match request")
	// ErrFilenameTooLong indicates a filename leaving no payload room for
	// file data.
	ErrFilenameTooLong = errors.New("filename too long for write payload")
)

// Link is the transport surface the file protocols need. internal/link.Link
// implements it; tests substitute fakes.
type Link interface {
	Send(msg wire.Message) error
	Register(msgType uint16, fn func(wire.Message)) (cancel func())
	WaitFor(msgType uint16, timeout time.Duration) (wire.Message, bool)
}

// FileIO issues file operations against the device on the other end of a
// Link. Methods are not safe for concurrent use; run one operation at a time.
type FileIO struct {
	link   Link
	logger *slog.Logger
	seq    uint32
}

// New returns a FileIO with a process-random initial sequence number.
func New(link Link, logger *slog.Logger) *FileIO {
	return NewWithSeq(link, logger, rand.Uint32())
}

// NewWithSeq fixes the initial sequence number, for deterministic tests.
func NewWithSeq(link Link, logger *slog.Logger, seq uint32) *FileIO {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileIO{link: link, logger: logger, seq: seq}
}

func (f *FileIO) nextSeq() uint32 {
	f.seq++
	return f.seq
}

// ReadOptions adjusts a Read.
type ReadOptions struct {
	// Progress, when set, receives the cumulative content bytes received
	// so far. It is invoked from the link's reader goroutine.
	Progress func(received int)
}

// Read fetches the complete contents of a remote file.
//
// Chunks are requested at successive offsets through the selective-repeat
// window, so replies may land in any order; each is filed under its request's
// offset. The first reply shorter than the requested chunk size marks end of
// file and stops the request loop; remaining in-flight replies are then
// drained before the buffer is assembled.
func (f *FileIO) Read(ctx context.Context, filename string, opts ReadOptions) ([]byte, error) {
	chunkSize := wire.MaxPayload - readOverhead

	var (
		mu       sync.Mutex
		chunks   = make(map[uint32][]byte)
		size     uint32
		sized    bool
		received int
		done     atomic.Bool
	)
	rep := newRepeater(f.link, wire.TypeReadResp, func(req wire.Sequenced, reply wire.Message) {
		rq, ok := req.(*wire.ReadReq)
		if !ok {
			return
		}
		rp, ok := reply.(*wire.ReadResp)
		if !ok {
			return
		}
		mu.Lock()
		chunks[rq.Offset] = rp.Contents
		received += len(rp.Contents)
		n := received
		if len(rp.Contents) < int(rq.ChunkSize) {
			// Requests issued past EOF also come back short (or
			// empty); the smallest end wins.
			end := rq.Offset + uint32(len(rp.Contents))
			if !sized || end < size {
				size = end
				sized = true
			}
			done.Store(true)
		}
		mu.Unlock()
		if opts.Progress != nil {
			opts.Progress(n)
		}
	})
	defer rep.Close()

	f.logger.Debug("read start", "file", filename, "chunk_size", chunkSize)
	offset := uint32(0)
	for !done.Load() {
		req := &wire.ReadReq{
			Sequence:  f.nextSeq(),
			Offset:    offset,
			ChunkSize: uint8(chunkSize),
			Filename:  filename,
		}
		if err := rep.Send(ctx, req); err != nil {
			return nil, fmt.Errorf("read %s: %w", filename, err)
		}
		offset += uint32(chunkSize)
	}
	if err := rep.Flush(ctx); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}

	mu.Lock()
	defer mu.Unlock()
	buf := make([]byte, size)
	for off, chunk := range chunks {
		if off >= size {
			continue
		}
		copy(buf[off:], chunk)
	}
	f.logger.Debug("read done", "file", filename, "bytes", len(buf))
	return buf, nil
}

// WriteOptions adjusts a Write.
type WriteOptions struct {
	// Offset is the starting byte offset, into both the remote file and
	// the source data.
	Offset uint32
	// Truncate removes the remote file first when writing from offset 0,
	// so stale bytes beyond this write cannot survive.
	Truncate bool
	// Progress, when set, receives the cumulative bytes scheduled so far,
	// after each chunk is handed to the window (not after acknowledgment).
	Progress func(scheduled int)
}

// Write stores data in a remote file, pipelining write chunks through the
// selective-repeat window and returning once every chunk is acknowledged. A
// failed write leaves the remote file partially written.
func (f *FileIO) Write(ctx context.Context, filename string, data []byte, opts WriteOptions) error {
	// Each request carries the filename alongside the chunk, so long names
	// shrink the chunk and can starve it entirely.
	chunkSize := wire.MaxPayload - len(filename) - writeOverhead
	if chunkSize <= 0 {
		return fmt.Errorf("write %s: %w", filename, ErrFilenameTooLong)
	}

	if opts.Truncate && opts.Offset == 0 {
		if err := f.Remove(ctx, filename); err != nil {
			return fmt.Errorf("write %s: truncate: %w", filename, err)
		}
	}

	rep := newRepeater(f.link, wire.TypeWriteResp, nil)
	defer rep.Close()

	f.logger.Debug("write start", "file", filename, "bytes", len(data), "chunk_size", chunkSize)
	cursor := int(opts.Offset)
	for cursor < len(data) {
		end := cursor + chunkSize
		if end > len(data) {
			end = len(data)
		}
		req := &wire.WriteReq{
			Sequence: f.nextSeq(),
			Offset:   uint32(cursor),
			Filename: filename,
			Data:     data[cursor:end],
		}
		if err := rep.Send(ctx, req); err != nil {
			return fmt.Errorf("write %s: %w", filename, err)
		}
		cursor = end
		if opts.Progress != nil {
			opts.Progress(cursor)
		}
	}
	if err := rep.Flush(ctx); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	f.logger.Debug("write done", "file", filename)
	return nil
}

// ReadDir lists a remote directory. Listing is unwindowed: each page is
// requested and awaited synchronously, and an empty page ends the listing.
func (f *FileIO) ReadDir(ctx context.Context, dirname string) ([]string, error) {
	var names []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seq := f.nextSeq()
		req := &wire.ReadDirReq{Sequence: seq, Offset: uint32(len(names)), Dirname: dirname}
		if err := f.link.Send(req); err != nil {
			return nil, fmt.Errorf("list %s: %w", dirname, err)
		}
		reply, ok := f.link.WaitFor(wire.TypeReadDirResp, dirTimeout)
		if !ok {
			return nil, fmt.Errorf("list %s: %w", dirname, ErrDirTimeout)
		}
		resp, ok := reply.(*wire.ReadDirResp)
		if !ok {
			return nil, fmt.Errorf("list %s: %w", dirname, ErrDirMismatch)
		}
		if resp.Sequence != seq {
			return nil, fmt.Errorf("list %s: reply seq %d, want %d: %w", dirname, resp.Sequence, seq, ErrDirMismatch)
		}
		page := bytes.TrimRight(resp.Contents, "\x00")
		if len(page) == 0 {
			return names, nil
		}
		names = append(names, strings.Split(string(page), "\x00")...)
	}
}

// Remove deletes a remote file. The protocol has no acknowledgment for it:
// the request is sent once and assumed delivered.
func (f *FileIO) Remove(ctx context.Context, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.link.Send(&wire.RemoveReq{Filename: filename}); err != nil {
		return fmt.Errorf("remove %s: %w", filename, err)
	}
	f.logger.Debug("remove sent", "file", filename)
	return nil
}
