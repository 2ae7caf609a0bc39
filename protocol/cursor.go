package protocol

import "encoding/binary"

// cursor reads fixed-width fields from an owned buffer, tracking position and
// refusing reads past the end. A failed read sets short and yields zero values.
type cursor struct {
	buf   []byte
	off   int
	short bool
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

// take returns the next n bytes without copying. The result's capacity is capped
// so appends never clobber the rest of the frame.
func (c *cursor) take(n int) []byte {
	if n < 0 || n > c.remaining() {
		c.short = true
		c.off = len(c.buf)
		return nil
	}
	b := c.buf[c.off : c.off+n : c.off+n]
	c.off += n
	return b
}

func (c *cursor) u8() uint8 {
	b := c.take(1)
	if len(b) < 1 {
		return 0
	}
	return b[0]
}

func (c *cursor) u16() uint16 {
	b := c.take(2)
	if len(b) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (c *cursor) u32() uint32 {
	b := c.take(4)
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (c *cursor) str(n int) string {
	return string(c.take(n))
}
