// Package protocol implements the LPC wire codec.
//
// Every packet is a fixed-size header of length fields followed by the
// variable-length fields the header describes, in header order. Multi-byte
// length fields are big-endian (network byte order). Frames carry no type tag:
// the pipe a frame arrives on determines its kind, so decoding always takes the
// expected Kind.
//
//	InstallRequest     │ pipeNameLen u16 │ pipeName
//	ConnectionRequest  │ responsePipeNameLen u32 │ accessPathLen u32 │ responsePipeName │ accessPath
//	Install            │ versionLen u8 │ callLen u16 │ returnLen u16 │ accessPathLen u16 │ version │ call │ return │ accessPath
//	Connect            │ versionLen u8 │ callLen u32 │ returnLen u32 │ version │ call │ return
//	Calling/Returning  │ fnLen u8 │ argCount u8 │ argsTotalLen u32 │ token [32] │ fn │ argCount × argLen u32 │ args ...
package protocol

import (
	"fmt"
	"math"

	"mini-lpc/message"
)

// Kind identifies a packet layout.
type Kind byte

const (
	KindInstallRequest Kind = iota + 1
	KindConnectionRequest
	KindInstall
	KindConnect
	KindCalling
	KindReturning
)

func (k Kind) String() string {
	switch k {
	case KindInstallRequest:
		return "InstallRequest"
	case KindConnectionRequest:
		return "ConnectionRequest"
	case KindInstall:
		return "Install"
	case KindConnect:
		return "Connect"
	case KindCalling:
		return "Calling"
	case KindReturning:
		return "Returning"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(k))
	}
}

// Fixed header sizes in bytes.
const (
	InstallRequestHeaderSize    = 2
	ConnectionRequestHeaderSize = 4 + 4
	InstallHeaderSize           = 1 + 2 + 2 + 2
	ConnectHeaderSize           = 1 + 4 + 4
	CallingHeaderSize           = 1 + 1 + 4 + message.TokenSize
)

// Field width limits.
const (
	MaxVersionLen  = math.MaxUint8
	MaxFunctionLen = math.MaxUint8
	MaxArgs        = math.MaxUint8
	MaxU16Field    = math.MaxUint16
	MaxU32Field    = math.MaxUint32
)

// HeaderSize returns the fixed header size for kind, or 0 for an unknown kind.
func HeaderSize(kind Kind) int {
	switch kind {
	case KindInstallRequest:
		return InstallRequestHeaderSize
	case KindConnectionRequest:
		return ConnectionRequestHeaderSize
	case KindInstall:
		return InstallHeaderSize
	case KindConnect:
		return ConnectHeaderSize
	case KindCalling, KindReturning:
		return CallingHeaderSize
	default:
		return 0
	}
}

// Packet is any of the six LPC packet types.
type Packet interface {
	Kind() Kind
}

// InstallRequest asks the broker to open a private install pipe.
type InstallRequest struct {
	PipeName string
}

// ConnectionRequest asks the broker to resolve AccessPath and answer on ResponsePipeName.
type ConnectionRequest struct {
	ResponsePipeName string
	AccessPath       string
}

// Install registers a service with the broker.
type Install struct {
	Version        string
	CallPipeName   string
	ReturnPipeName string
	AccessPath     string
}

// Connect is the broker's answer to a ConnectionRequest. All fields empty means
// the access path is not registered.
type Connect struct {
	Version        string
	CallPipeName   string
	ReturnPipeName string
}

// Found reports whether the broker resolved the access path.
func (c *Connect) Found() bool {
	return c.CallPipeName != "" || c.ReturnPipeName != ""
}

// Calling is a call envelope on the wire.
type Calling message.Envelope

// Returning is a return envelope on the wire. It must carry exactly one argument.
type Returning message.Envelope

func (*InstallRequest) Kind() Kind    { return KindInstallRequest }
func (*ConnectionRequest) Kind() Kind { return KindConnectionRequest }
func (*Install) Kind() Kind           { return KindInstall }
func (*Connect) Kind() Kind           { return KindConnect }
func (*Calling) Kind() Kind           { return KindCalling }
func (*Returning) Kind() Kind         { return KindReturning }

// Encode serializes p into a newly allocated frame.
func Encode(p Packet) ([]byte, error) {
	switch p := p.(type) {
	case *InstallRequest:
		return encodeInstallRequest(p)
	case *ConnectionRequest:
		return encodeConnectionRequest(p)
	case *Install:
		return encodeInstall(p)
	case *Connect:
		return encodeConnect(p)
	case *Calling:
		return encodeEnvelope(KindCalling, (*message.Envelope)(p))
	case *Returning:
		return encodeEnvelope(KindReturning, (*message.Envelope)(p))
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", p)
	}
}

// Decode parses one frame of the given kind from the start of data. It returns
// the packet and the number of bytes consumed. It never reads past the lengths
// the header declares.
func Decode(kind Kind, data []byte) (Packet, int, error) {
	hs := HeaderSize(kind)
	if hs == 0 {
		return nil, 0, fmt.Errorf("protocol: unknown packet kind %d", byte(kind))
	}
	if len(data) < hs {
		return nil, 0, newFramingError(kind, ErrTruncated, hs, len(data))
	}
	payload := payloadSize(kind, data[:hs])
	if uint64(len(data)-hs) < payload {
		return nil, 0, newFramingError(kind, ErrIncomplete, saturatedInt(uint64(hs)+payload), len(data))
	}

	c := newCursor(data)
	var (
		p   Packet
		err error
	)
	switch kind {
	case KindInstallRequest:
		p, err = decodeInstallRequest(c)
	case KindConnectionRequest:
		p, err = decodeConnectionRequest(c)
	case KindInstall:
		p, err = decodeInstall(c)
	case KindConnect:
		p, err = decodeConnect(c)
	case KindCalling:
		var env *message.Envelope
		env, err = decodeEnvelope(kind, c)
		p = (*Calling)(env)
	case KindReturning:
		var env *message.Envelope
		env, err = decodeEnvelope(kind, c)
		p = (*Returning)(env)
	}
	if err != nil {
		return nil, 0, err
	}
	return p, c.off, nil
}

// payloadSize computes the variable-length size declared by a complete header.
func payloadSize(kind Kind, h []byte) uint64 {
	c := newCursor(h)
	switch kind {
	case KindInstallRequest:
		return uint64(c.u16())
	case KindConnectionRequest:
		return uint64(c.u32()) + uint64(c.u32())
	case KindInstall:
		return uint64(c.u8()) + uint64(c.u16()) + uint64(c.u16()) + uint64(c.u16())
	case KindConnect:
		return uint64(c.u8()) + uint64(c.u32()) + uint64(c.u32())
	case KindCalling, KindReturning:
		fnLen := uint64(c.u8())
		argc := uint64(c.u8())
		return fnLen + 4*argc + uint64(c.u32())
	default:
		return 0
	}
}

func saturatedInt(n uint64) int {
	if n > math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}
