// Package codec converts Go values to and from the opaque argument byte strings
// carried by call envelopes.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeRaw  CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeRaw:
		return "raw"
	default:
		return fmt.Sprintf("CodecType(%d)", byte(t))
	}
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &RawCodec{}
}

// ParseCodecType maps a configuration name to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "json":
		return CodecTypeJSON, nil
	case "raw", "":
		return CodecTypeRaw, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}

// EncodeAll encodes each value into one argument.
func EncodeAll(c Codec, values ...any) ([][]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	args := make([][]byte, len(values))
	for i, v := range values {
		b, err := c.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("codec: argument %d: %w", i, err)
		}
		args[i] = b
	}
	return args, nil
}

// DecodeArgs decodes args[i] into targets[i]. Targets beyond the supplied
// arguments are left untouched; extra arguments are an error.
func DecodeArgs(c Codec, args [][]byte, targets ...any) error {
	if len(args) > len(targets) {
		return fmt.Errorf("codec: %d arguments for %d targets", len(args), len(targets))
	}
	for i, a := range args {
		if err := c.Decode(a, targets[i]); err != nil {
			return fmt.Errorf("codec: argument %d: %w", i, err)
		}
	}
	return nil
}
