//go:build !windows

// Package pipe provides the named-pipe (FIFO) primitive the LPC protocol runs on,
// and the rendezvous directory layout shared by the broker and its peers.
//
// Opening one end of a FIFO blocks until the other end is opened too. Open
// bounds that wait with a context: when the context ends first, a short-lived
// read-write open of the same FIFO satisfies the pending open, and both
// descriptors are closed before Open returns.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"mini-lpc/lpcerr"
)

// DefaultPerm is the permission used for FIFOs created by LPC components.
const DefaultPerm os.FileMode = 0o600

// Mode selects which end of a FIFO to open.
type Mode int

const (
	// ModeRead opens the read end and blocks until a writer appears.
	ModeRead Mode = iota
	// ModeWrite opens the write end and blocks until a reader appears.
	ModeWrite
	// ModeReadWrite holds both ends. It never blocks and never sees EOF while
	// open, which suits long-lived readers of pipes with transient writers.
	ModeReadWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) flag() int {
	switch m {
	case ModeWrite:
		return os.O_WRONLY
	case ModeReadWrite:
		return os.O_RDWR
	default:
		return os.O_RDONLY
	}
}

// Create makes a FIFO at name. An existing FIFO is accepted; any other existing
// file is an error.
func Create(name string, perm os.FileMode) error {
	err := unix.Mkfifo(name, uint32(perm.Perm()))
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EEXIST) {
		return lpcerr.Transport("mkfifo", name, err)
	}
	fi, statErr := os.Stat(name)
	if statErr != nil {
		return lpcerr.Transport("mkfifo", name, statErr)
	}
	if fi.Mode()&fs.ModeNamedPipe == 0 {
		return lpcerr.Transport("mkfifo", name, fmt.Errorf("existing %v is not a named pipe", fi.Mode().Type()))
	}
	return nil
}

// Remove deletes the FIFO at name. A missing file is not an error.
func Remove(name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return lpcerr.Transport("remove", name, err)
	}
	return nil
}

// IsFIFO reports whether name exists and is a named pipe.
func IsFIFO(name string) bool {
	fi, err := os.Stat(name)
	return err == nil && fi.Mode()&fs.ModeNamedPipe != 0
}

type openResult struct {
	f   *os.File
	err error
}

// Open opens one end of the FIFO at name, waiting at most until ctx is done for
// the peer to open the other end. Failures are *lpcerr.Error values; a context
// that ends first yields a Timeout kind.
func Open(ctx context.Context, name string, mode Mode) (*os.File, error) {
	if mode == ModeReadWrite {
		f, err := os.OpenFile(name, mode.flag(), 0)
		if err != nil {
			return nil, lpcerr.Transport("open", name, err)
		}
		return f, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, lpcerr.Transport("open", name, err)
	}

	ch := make(chan openResult, 1)
	go func() {
		f, err := os.OpenFile(name, mode.flag(), 0)
		ch <- openResult{f: f, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, lpcerr.Transport("open", name, r.err)
		}
		return r.f, nil
	case <-ctx.Done():
		abandon(name, ch)
		return nil, lpcerr.Transport("open", name, ctx.Err())
	}
}

// abandon releases the goroutine blocked in open(2) on name and closes what it
// opened. On return no descriptor of the FIFO is left open by this package, so
// a later writer cannot mistake a stale end for a reader.
func abandon(name string, ch <-chan openResult) {
	unblock, err := os.OpenFile(name, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		// Nothing can satisfy the pending open; close its file if it ever returns.
		go func() {
			if r := <-ch; r.f != nil {
				_ = r.f.Close()
			}
		}()
		return
	}
	if r := <-ch; r.f != nil {
		_ = r.f.Close()
	}
	_ = unblock.Close()
}

// SetReadContext arms the read deadline of f from ctx. A context without a
// deadline clears it.
func SetReadContext(ctx context.Context, f *os.File) error {
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Time{}
	}
	return f.SetReadDeadline(dl)
}

// SetWriteContext arms the write deadline of f from ctx.
func SetWriteContext(ctx context.Context, f *os.File) error {
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Time{}
	}
	return f.SetWriteDeadline(dl)
}
