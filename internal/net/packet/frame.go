package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire format, all fields little-endian:
//
//	[2 bytes: total length including this header][2 bytes: command][payload]
const (
	HeaderSize   = 4
	MaxFrameSize = 0xFFFF
	MaxPayload   = MaxFrameSize - HeaderSize
)

// Reserved commands, handled identically by every lobby type.
const (
	CmdPing       uint16 = 0x0001
	CmdDisconnect uint16 = 0x0002
)

// ResultError is the int32 result that prefixes a structured error payload.
const ResultError int32 = -1

// ErrorCode is the structured error carried by an error response.
type ErrorCode uint16

const (
	ErrGeneral        ErrorCode = 1
	ErrInvalidSession ErrorCode = 2
	ErrClanNotAMember ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case ErrGeneral:
		return "GENERAL"
	case ErrInvalidSession:
		return "INVALID_SESSION"
	case ErrClanNotAMember:
		return "CLAN_NOT_A_MEMBER"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint16(c))
	}
}

var (
	ErrInvalidLength = errors.New("invalid frame length")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// Packet is one decoded frame. Payloads produced by a Decoder are backed by
// pooled buffers and must be released once processing is done.
type Packet struct {
	Command uint16
	Payload []byte

	buf *[]byte
}

// New wraps an unpooled payload.
func New(cmd uint16, payload []byte) Packet {
	return Packet{Command: cmd, Payload: payload}
}

// Release hands the payload buffer back to the pool. Calling it more than
// once is a no-op.
func (p *Packet) Release() {
	if p.buf != nil {
		putBuffer(p.buf)
		p.buf = nil
	}
	p.Payload = nil
}

// Decoder turns a byte stream into packets. It tolerates arbitrary
// fragmentation: incomplete frames stay buffered until the next Feed.
// A Decoder is owned by a single reader goroutine.
type Decoder struct {
	buf []byte
}

func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 4096)}
}

// Feed appends data and returns every complete packet, in order.
// On error the stream is unrecoverable and the connection must be closed;
// packets decoded before the malformed frame are still returned.
func (d *Decoder) Feed(data []byte) ([]Packet, error) {
	d.buf = append(d.buf, data...)

	var out []Packet
	off := 0
	for len(d.buf)-off >= 2 {
		total := int(binary.LittleEndian.Uint16(d.buf[off:]))
		if total < HeaderSize {
			d.compact(off)
			return out, fmt.Errorf("%w: %d", ErrInvalidLength, total)
		}
		if len(d.buf)-off < total {
			break
		}
		cmd := binary.LittleEndian.Uint16(d.buf[off+2:])
		n := total - HeaderSize
		bp := getBuffer(n)
		copy(*bp, d.buf[off+HeaderSize:off+total])
		out = append(out, Packet{Command: cmd, Payload: *bp, buf: bp})
		off += total
	}
	d.compact(off)
	return out, nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) compact(off int) {
	if off == 0 {
		return
	}
	n := copy(d.buf, d.buf[off:])
	d.buf = d.buf[:n]
}

// Encode builds a frame with an arbitrary payload.
func Encode(cmd uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(frame[0:], uint16(len(frame)))
	binary.LittleEndian.PutUint16(frame[2:], cmd)
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// EncodeEmpty builds a command-only frame.
func EncodeEmpty(cmd uint16) []byte {
	frame, _ := Encode(cmd, nil)
	return frame
}

// EncodeResult builds a frame carrying a single int32 result.
func EncodeResult(cmd uint16, result int32) []byte {
	var b [4]byte
	putResult(b[:], result)
	frame, _ := Encode(cmd, b[:])
	return frame
}

// EncodeError builds a structured error frame: [int32 ResultError][uint16 code].
func EncodeError(cmd uint16, code ErrorCode) []byte {
	var b [6]byte
	putResult(b[0:], ResultError)
	binary.LittleEndian.PutUint16(b[4:], uint16(code))
	frame, _ := Encode(cmd, b[:])
	return frame
}

// putResult writes v in two's complement.
func putResult(b []byte, v int32) {
	binary.LittleEndian.PutUint32(b, uint32(v))
}

// DecodeError extracts the error code from a structured error payload.
func DecodeError(payload []byte) (ErrorCode, bool) {
	if len(payload) != 6 || int32(binary.LittleEndian.Uint32(payload)) != ResultError {
		return 0, false
	}
	return ErrorCode(binary.LittleEndian.Uint16(payload[4:])), true
}
