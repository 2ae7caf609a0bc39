// Package message defines the values exchanged between LPC endpoints.
//
// Envelope is the decoded form of a Calling/Returning packet. A call carries the
// function name and its ordered arguments; the matching return carries exactly one
// argument (the result) and the same Token, which is how a shared return pipe is
// demultiplexed back to the caller that is waiting for it.
package message

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TokenSize is the fixed width of the correlation token on the wire.
const TokenSize = 32

// Token correlates a return with the call that produced it.
type Token [TokenSize]byte

var tokenCounter atomic.Uint64

// NewToken returns a token that is unique across processes sharing a channel.
//
// Layout: 16 random bytes (UUIDv4) | pid (8 bytes) | per-process counter (8 bytes).
func NewToken() Token {
	var t Token
	id := uuid.New()
	copy(t[:16], id[:])
	binary.BigEndian.PutUint64(t[16:24], uint64(os.Getpid()))
	binary.BigEndian.PutUint64(t[24:32], tokenCounter.Add(1))
	return t
}

// String returns the token as lowercase hex.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// IsZero reports whether t is the all-zero token.
func (t Token) IsZero() bool {
	return t == Token{}
}

// Envelope carries a single call or return.
//
//   - On call:   Function is set, Args holds 0..255 argument byte strings.
//   - On return: Function echoes the call, Args holds exactly one element (the result).
type Envelope struct {
	Function string
	Args     [][]byte
	Token    Token
}

// NewCall builds a call envelope with a fresh token.
func NewCall(function string, args ...[]byte) *Envelope {
	return &Envelope{
		Function: function,
		Args:     args,
		Token:    NewToken(),
	}
}

// NewReturn builds the return envelope answering call.
func NewReturn(call *Envelope, result []byte) *Envelope {
	return &Envelope{
		Function: call.Function,
		Args:     [][]byte{result},
		Token:    call.Token,
	}
}

// Result returns the result payload of a return envelope.
func (e *Envelope) Result() []byte {
	if len(e.Args) == 0 {
		return nil
	}
	return e.Args[0]
}

// ArgsLen returns the total byte length of all arguments.
func (e *Envelope) ArgsLen() int {
	n := 0
	for _, a := range e.Args {
		n += len(a)
	}
	return n
}

// Registration records where the service for an access path listens.
type Registration struct {
	AccessPath     string    `json:"access_path"`
	Version        string    `json:"version"`
	CallPipeName   string    `json:"call_pipe"`
	ReturnPipeName string    `json:"return_pipe"`
	InstalledAt    time.Time `json:"installed_at"`
}
