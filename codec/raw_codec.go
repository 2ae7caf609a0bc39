package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RawCodec passes strings and byte slices through unchanged and writes
// fixed-size values (integers, floats, bools and arrays of them) big-endian,
// matching the byte order of the wire headers.
type RawCodec struct{}

func (c *RawCodec) Encode(v any) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	}
	if n := binary.Size(v); n < 0 {
		return nil, fmt.Errorf("RawCodec: cannot encode %T", v)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *RawCodec) Decode(data []byte, v any) error {
	switch v := v.(type) {
	case *[]byte:
		*v = append((*v)[:0], data...)
		return nil
	case *string:
		*v = string(data)
		return nil
	}
	n := binary.Size(v)
	if n < 0 {
		return fmt.Errorf("RawCodec: cannot decode into %T", v)
	}
	if n != len(data) {
		return fmt.Errorf("RawCodec: %T needs %d bytes, got %d", v, n, len(data))
	}
	return binary.Read(bytes.NewReader(data), binary.BigEndian, v)
}

func (c *RawCodec) Type() CodecType {
	return CodecTypeRaw
}
