package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrShortPayload indicates a payload too small for its message type.
	ErrShortPayload = errors.New("payload too short")
	// ErrUnknownType indicates a message type with no registered decoder.
	ErrUnknownType = errors.New("unknown message type")
)

// Message is one logical message exchanged with the device.
type Message interface {
	MsgType() uint16
	MarshalPayload() ([]byte, error)
}

// Sequenced is implemented by messages that carry a correlation sequence.
type Sequenced interface {
	Message
	Seq() uint32
}

// ReadReq requests one chunk of a remote file.
type ReadReq struct {
	Sequence  uint32
	Offset    uint32
	ChunkSize uint8
	Filename  string
}

func (m *ReadReq) MsgType() uint16 { return TypeReadReq }
func (m *ReadReq) Seq() uint32     { return m.Sequence }

func (m *ReadReq) MarshalPayload() ([]byte, error) {
	buf := make([]byte, 0, 9+len(m.Filename))
	buf = binary.LittleEndian.AppendUint32(buf, m.Sequence)
	buf = binary.LittleEndian.AppendUint32(buf, m.Offset)
	buf = append(buf, m.ChunkSize)
	buf = append(buf, m.Filename...)
	return buf, nil
}

func (m *ReadReq) UnmarshalPayload(p []byte) error {
	if len(p) < 9 {
		return fmt.Errorf("read req: %w", ErrShortPayload)
	}
	m.Sequence = binary.LittleEndian.Uint32(p[0:4])
	m.Offset = binary.LittleEndian.Uint32(p[4:8])
	m.ChunkSize = p[8]
	m.Filename = string(p[9:])
	return nil
}

// ReadResp carries one chunk of file contents. A chunk shorter than the
// requested size marks end of file; zero-length contents are valid.
type ReadResp struct {
	Sequence uint32
	Offset   uint32
	Contents []byte
}

func (m *ReadResp) MsgType() uint16 { return TypeReadResp }
func (m *ReadResp) Seq() uint32     { return m.Sequence }

func (m *ReadResp) MarshalPayload() ([]byte, error) {
	buf := make([]byte, 0, 8+len(m.Contents))
	buf = binary.LittleEndian.AppendUint32(buf, m.Sequence)
	buf = binary.LittleEndian.AppendUint32(buf, m.Offset)
	buf = append(buf, m.Contents...)
	return buf, nil
}

func (m *ReadResp) UnmarshalPayload(p []byte) error {
	if len(p) < 8 {
		return fmt.Errorf("read resp: %w", ErrShortPayload)
	}
	m.Sequence = binary.LittleEndian.Uint32(p[0:4])
	m.Offset = binary.LittleEndian.Uint32(p[4:8])
	m.Contents = append([]byte(nil), p[8:]...)
	return nil
}

// WriteReq writes one chunk at an offset. The filename and the data share the
// payload, separated by a NUL.
type WriteReq struct {
	Sequence uint32
	Offset   uint32
	Filename string
	Data     []byte
}

func (m *WriteReq) MsgType() uint16 { return TypeWriteReq }
func (m *WriteReq) Seq() uint32     { return m.Sequence }

func (m *WriteReq) MarshalPayload() ([]byte, error) {
	buf := make([]byte, 0, 9+len(m.Filename)+len(m.Data))
	buf = binary.LittleEndian.AppendUint32(buf, m.Sequence)
	buf = binary.LittleEndian.AppendUint32(buf, m.Offset)
	buf = append(buf, m.Filename...)
	buf = append(buf, 0)
	buf = append(buf, m.Data...)
	return buf, nil
}

func (m *WriteReq) UnmarshalPayload(p []byte) error {
	if len(p) < 9 {
		return fmt.Errorf("write req: %w", ErrShortPayload)
	}
	m.Sequence = binary.LittleEndian.Uint32(p[0:4])
	m.Offset = binary.LittleEndian.Uint32(p[4:8])
	rest := p[8:]
	i := 0
	for i < len(rest) && rest[i] != 0 {
		i++
	}
	if i == len(rest) {
		return fmt.Errorf("write req: missing filename separator: %w", ErrShortPayload)
	}
	m.Filename = string(rest[:i])
	m.Data = append([]byte(nil), rest[i+1:]...)
	return nil
}

// WriteResp acknowledges one WriteReq.
type WriteResp struct {
	Sequence uint32
}

func (m *WriteResp) MsgType() uint16 { return TypeWriteResp }
func (m *WriteResp) Seq() uint32     { return m.Sequence }

func (m *WriteResp) MarshalPayload() ([]byte, error) {
	return binary.LittleEndian.AppendUint32(nil, m.Sequence), nil
}

func (m *WriteResp) UnmarshalPayload(p []byte) error {
	if len(p) < 4 {
		return fmt.Errorf("write resp: %w", ErrShortPayload)
	}
	m.Sequence = binary.LittleEndian.Uint32(p[0:4])
	return nil
}

// ReadDirReq requests one page of a directory listing, starting at the given
// entry offset.
type ReadDirReq struct {
	Sequence uint32
	Offset   uint32
	Dirname  string
}

func (m *ReadDirReq) MsgType() uint16 { return TypeReadDirReq }
func (m *ReadDirReq) Seq() uint32     { return m.Sequence }

func (m *ReadDirReq) MarshalPayload() ([]byte, error) {
	buf := make([]byte, 0, 8+len(m.Dirname))
	buf = binary.LittleEndian.AppendUint32(buf, m.Sequence)
	buf = binary.LittleEndian.AppendUint32(buf, m.Offset)
	buf = append(buf, m.Dirname...)
	return buf, nil
}

func (m *ReadDirReq) UnmarshalPayload(p []byte) error {
	if len(p) < 8 {
		return fmt.Errorf("readdir req: %w", ErrShortPayload)
	}
	m.Sequence = binary.LittleEndian.Uint32(p[0:4])
	m.Offset = binary.LittleEndian.Uint32(p[4:8])
	m.Dirname = string(p[8:])
	return nil
}

// ReadDirResp carries one page of NUL-joined entry names. An empty page marks
// the end of the listing.
type ReadDirResp struct {
	Sequence uint32
	Contents []byte
}

func (m *ReadDirResp) MsgType() uint16 { return TypeReadDirResp }
func (m *ReadDirResp) Seq() uint32     { return m.Sequence }

func (m *ReadDirResp) MarshalPayload() ([]byte, error) {
	buf := make([]byte, 0, 4+len(m.Contents))
	buf = binary.LittleEndian.AppendUint32(buf, m.Sequence)
	buf = append(buf, m.Contents...)
	return buf, nil
}

func (m *ReadDirResp) UnmarshalPayload(p []byte) error {
	if len(p) < 4 {
		return fmt.Errorf("readdir resp: %w", ErrShortPayload)
	}
	m.Sequence = binary.LittleEndian.Uint32(p[0:4])
	m.Contents = append([]byte(nil), p[4:]...)
	return nil
}

// RemoveReq deletes a remote file. It is fire-and-forget: the device sends no
// acknowledgment and the request carries no sequence.
type RemoveReq struct {
	Filename string
}

func (m *RemoveReq) MsgType() uint16 { return TypeRemoveReq }

func (m *RemoveReq) MarshalPayload() ([]byte, error) {
	return []byte(m.Filename), nil
}

func (m *RemoveReq) UnmarshalPayload(p []byte) error {
	m.Filename = string(p)
	return nil
}

// DecodeMessage decodes a frame payload into its typed message.
func DecodeMessage(msgType uint16, payload []byte) (Message, error) {
	var msg interface {
		Message
		UnmarshalPayload([]byte) error
	}
	switch msgType {
	case TypeReadReq:
		msg = &ReadReq{}
	case TypeReadResp:
		msg = &ReadResp{}
	case TypeWriteReq:
		msg = &WriteReq{}
	case TypeWriteResp:
		msg = &WriteResp{}
	case TypeReadDirReq:
		msg = &ReadDirReq{}
	case TypeReadDirResp:
		msg = &ReadDirResp{}
	case TypeRemoveReq:
		msg = &RemoveReq{}
	default:
		return nil, fmt.Errorf("type 0x%04X: %w", msgType, ErrUnknownType)
	}
	if err := msg.UnmarshalPayload(payload); err != nil {
		return nil, err
	}
	return msg, nil
}
