package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/navlink/fioctl/internal/bufpool"
)

// Frame format: 0x55 preamble, u16 LE message type, u16 LE sender id, u8
// payload length, payload, u16 LE CRC-16/CCITT over everything after the
// preamble.
const (
	Preamble   = byte(0x55)
	MaxPayload = 255

	headerLen = 6
	crcLen    = 2
	frameMax  = headerLen + MaxPayload + crcLen
)

var (
	// ErrBadCRC indicates a frame whose checksum did not verify.
	ErrBadCRC = errors.New("frame crc mismatch")
	// ErrPayloadTooLarge indicates a payload exceeding MaxPayload.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
)

// crc16Update folds data into a running CRC-16/CCITT (poly 0x1021, init 0).
func crc16Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Encoder frames messages onto a byte stream. Writes are serialized, so one
// Encoder may be shared by multiple goroutines.
type Encoder struct {
	mu     sync.Mutex
	w      io.Writer
	sender uint16
	pool   *bufpool.Pool
}

// NewEncoder returns an encoder stamping frames with the given sender id.
func NewEncoder(w io.Writer, sender uint16) *Encoder {
	return &Encoder{w: w, sender: sender, pool: bufpool.New(frameMax)}
}

// Encode marshals msg and writes a single complete frame.
func (e *Encoder) Encode(msg Message) error {
	payload, err := msg.MarshalPayload()
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("message type 0x%04X: %w", msg.MsgType(), ErrPayloadTooLarge)
	}

	buf := e.pool.Get()
	defer e.pool.Put(buf)

	buf[0] = Preamble
	binary.LittleEndian.PutUint16(buf[1:3], msg.MsgType())
	binary.LittleEndian.PutUint16(buf[3:5], e.sender)
	buf[5] = byte(len(payload))
	copy(buf[headerLen:], payload)
	end := headerLen + len(payload)
	crc := crc16Update(0, buf[1:end])
	binary.LittleEndian.PutUint16(buf[end:end+crcLen], crc)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(buf[:end+crcLen]); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Frame is one decoded frame before message-level decoding.
type Frame struct {
	MsgType uint16
	Sender  uint16
	Payload []byte
}

// Decoder extracts frames from a byte stream. The stream is assumed lossy:
// the decoder hunts for the preamble and reports corrupt frames as ErrBadCRC
// so the caller can resynchronize on the next call.
type Decoder struct {
	r    *bufio.Reader
	pool *bufpool.Pool
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096), pool: bufpool.New(frameMax)}
}

// Next returns the next frame. It returns ErrBadCRC for a corrupt frame and
// the underlying read error (io.EOF included) once the stream ends. The
// returned payload is a fresh copy.
func (d *Decoder) Next() (Frame, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b != Preamble {
			continue
		}

		scratch := d.pool.Get()
		header := scratch[:headerLen-1]
		if _, err := io.ReadFull(d.r, header); err != nil {
			d.pool.Put(scratch)
			return Frame{}, fmt.Errorf("read frame header: %w", err)
		}
		msgType := binary.LittleEndian.Uint16(header[0:2])
		sender := binary.LittleEndian.Uint16(header[2:4])
		n := int(header[4])

		body := scratch[headerLen-1 : headerLen-1+n+crcLen]
		if _, err := io.ReadFull(d.r, body); err != nil {
			d.pool.Put(scratch)
			return Frame{}, fmt.Errorf("read frame body: %w", err)
		}

		crc := crc16Update(0, scratch[:headerLen-1+n])
		want := binary.LittleEndian.Uint16(body[n : n+crcLen])
		if crc != want {
			d.pool.Put(scratch)
			return Frame{}, ErrBadCRC
		}

		payload := append([]byte(nil), body[:n]...)
		d.pool.Put(scratch)
		return Frame{MsgType: msgType, Sender: sender, Payload: payload}, nil
	}
}
