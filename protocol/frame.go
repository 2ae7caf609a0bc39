package protocol

import (
	"io"
	"math"

	"mini-lpc/message"
)

// ReadFrame reads exactly one frame of the given kind from r.
//
// The fixed header is read first to learn the payload length, then exactly that
// many bytes are read with io.ReadFull. A frame larger than maxSize (0 = no
// limit) is consumed and discarded so the stream stays aligned on the next
// frame, and an ErrOversized FramingError is returned for it. Structural
// errors (arity, length mismatch) are likewise reported after the whole frame
// has been consumed, so one bad frame never desynchronizes the stream.
func ReadFrame(r io.Reader, kind Kind, maxSize int) (Packet, error) {
	hs := HeaderSize(kind)
	if hs == 0 {
		_, _, err := Decode(kind, nil)
		return nil, err
	}

	header := make([]byte, hs)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	payload := payloadSize(kind, header)
	limit := uint64(math.MaxInt - hs)
	if maxSize > 0 {
		limit = 0
		if maxSize > hs {
			limit = uint64(maxSize - hs)
		}
	}
	if payload > limit {
		if _, err := io.CopyN(io.Discard, r, int64(payload)); err != nil {
			return nil, err
		}
		return nil, newFramingError(kind, ErrOversized, saturatedInt(uint64(hs)+payload), maxSize)
	}

	frame := make([]byte, hs+int(payload))
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[hs:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	p, _, err := Decode(kind, frame)
	return p, err
}

// WriteFrame encodes p and writes it with a single Write call. Callers sharing
// w between goroutines must serialize calls so frames do not interleave.
func WriteFrame(w io.Writer, p Packet) error {
	buf, err := Encode(p)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadCall reads one Calling frame.
func ReadCall(r io.Reader, maxSize int) (*message.Envelope, error) {
	p, err := ReadFrame(r, KindCalling, maxSize)
	if err != nil {
		return nil, err
	}
	return (*message.Envelope)(p.(*Calling)), nil
}

// ReadReturn reads one Returning frame.
func ReadReturn(r io.Reader, maxSize int) (*message.Envelope, error) {
	p, err := ReadFrame(r, KindReturning, maxSize)
	if err != nil {
		return nil, err
	}
	return (*message.Envelope)(p.(*Returning)), nil
}
