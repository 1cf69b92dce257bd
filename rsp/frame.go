package rsp

import (
	"bufio"
	"errors"
	"io"
)

var (
	// ErrBadChecksum is returned by Recv when the two-hex-digit trailer
	// doesn't match the additive checksum of the accumulated payload, or
	// isn't two valid hex digits. Recv has already emitted a NACK ('-') by
	// the time this is returned; GDB is expected to retransmit.
	ErrBadChecksum = errors.New("rsp: bad checksum")
	// ErrFrameOverflow is returned by Recv when the payload exceeds
	// MaxPacketSize before a '#' end marker is seen. This is fatal; the
	// connection should be torn down.
	ErrFrameOverflow = errors.New("rsp: frame buffer overflow")
	// ErrUnexpectedAck is returned by Send when the byte following a sent
	// frame is neither '+' nor '-'.
	ErrUnexpectedAck = errors.New("rsp: unexpected ack byte")
)

// MaxPacketSize bounds the accumulated payload of a single inbound frame.
// The reference stub uses a 1024-byte arena; this is kept as the default
// but Framer accepts a larger buffer if constructed with NewFramerSize.
const MaxPacketSize = 1024

// AdvertisedPacketSize is the value reported to GDB in the qSupported
// reply (PacketSize=FF). The real receive buffer is larger; the
// advertised cap is conservative, matching the reference.
const AdvertisedPacketSize = 0xFF

// Framer performs half-duplex, per-packet-acknowledged RSP framing over
// an io.Reader/io.Writer pair. It owns a single reusable receive buffer
// (never aliased across calls), matching the reference stub's one-arena
// design described in spec §5 (resource model).
type Framer struct {
	r       *bufio.Reader
	w       io.Writer
	maxSize int
	buf     []byte
}

// NewFramer constructs a Framer with the default MaxPacketSize buffer.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerSize(rw, MaxPacketSize)
}

// NewFramerSize constructs a Framer with an explicit buffer capacity.
func NewFramerSize(rw io.ReadWriter, maxSize int) *Framer {
	return &Framer{
		r:       bufio.NewReader(rw),
		w:       rw,
		maxSize: maxSize,
		buf:     make([]byte, 0, maxSize),
	}
}

// Recv scans the stream for a '$', discarding garbage bytes until it is
// found, accumulates the payload up to the terminating '#', reads the
// two-hex-digit checksum, and verifies it. On checksum mismatch, or a
// checksum trailer that isn't two hex digits, it writes a NACK ('-') and
// returns ErrBadChecksum; the returned payload is
// invalid in that case. On success it writes an ACK ('+') and returns the
// payload (valid only until the next call to Recv). io.EOF is returned
// verbatim when the stream ends, including mid-resync, per spec §9 (EOF
// during the resync phase must terminate the loop, not spin).
func (f *Framer) Recv() ([]byte, error) {
	for {
		c, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if c == '$' {
			break
		}
	}

	f.buf = f.buf[:0]
	for {
		c, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if c == '#' {
			break
		}
		if len(f.buf) >= f.maxSize {
			return nil, ErrFrameOverflow
		}
		f.buf = append(f.buf, c)
	}

	var csumHex [2]byte
	if _, err := io.ReadFull(f.r, csumHex[:]); err != nil {
		return nil, err
	}
	var expected [1]byte
	if err := HexDecode(expected[:], csumHex[:]); err != nil {
		_, _ = f.w.Write([]byte{'-'})
		return nil, ErrBadChecksum
	}

	actual := Checksum(f.buf)
	if actual != expected[0] {
		_, _ = f.w.Write([]byte{'-'})
		return nil, ErrBadChecksum
	}
	_, _ = f.w.Write([]byte{'+'})
	return f.buf, nil
}

// Send writes payload framed as $payload#cc, then reads one ack byte.
// A '+' ack returns (true, nil); a '-' NACK returns (false, nil) so the
// caller may decide whether to retransmit; any other byte is
// ErrUnexpectedAck. An empty payload is a valid frame (it means "command
// not understood").
func (f *Framer) Send(payload []byte) (acked bool, err error) {
	var out []byte
	out = append(out, '$')
	out = append(out, payload...)
	out = append(out, '#')
	csum := Checksum(payload)
	var csumHex [2]byte
	_, _ = HexEncode(csumHex[:], []byte{csum})
	out = append(out, csumHex[:]...)

	if _, err := f.w.Write(out); err != nil {
		return false, err
	}

	ack, err := f.r.ReadByte()
	if err != nil {
		return false, err
	}
	switch ack {
	case '+':
		return true, nil
	case '-':
		return false, nil
	default:
		return false, ErrUnexpectedAck
	}
}

// SendString is a convenience wrapper around Send for string payloads.
func (f *Framer) SendString(payload string) (bool, error) {
	return f.Send([]byte(payload))
}
