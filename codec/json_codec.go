package codec

import (
	"encoding/json"
	"fmt"
)

// JSONCodec carries each argument as one JSON document. An empty argument is
// an absent value: Decode leaves the target untouched, the way a call with no
// arguments reaches a typed handler.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: json encode %T: %w", v, err)
	}
	return b, nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: json decode into %T: %w", v, err)
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
