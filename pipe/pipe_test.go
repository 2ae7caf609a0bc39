//go:build !windows

package pipe

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"mini-lpc/lpcerr"
)

func TestCreateIsIdempotent(t *testing.T) {
	t.Parallel()
	name := filepath.Join(t.TempDir(), "p")

	require.NoError(t, Create(name, DefaultPerm))
	require.NoError(t, Create(name, DefaultPerm))
	assert.True(t, IsFIFO(name))

	require.NoError(t, Remove(name))
	require.NoError(t, Remove(name))
	assert.False(t, IsFIFO(name))
}

func TestCreateRejectsRegularFile(t *testing.T) {
	t.Parallel()
	name := filepath.Join(t.TempDir(), "regular")
	require.NoError(t, os.WriteFile(name, []byte("x"), 0o600))

	err := Create(name, DefaultPerm)
	require.Error(t, err)
	assert.ErrorIs(t, err, lpcerr.ErrTransport)
}

func TestOpenPairsReaderAndWriter(t *testing.T) {
	t.Parallel()
	name := filepath.Join(t.TempDir(), "p")
	require.NoError(t, Create(name, DefaultPerm))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan []byte, 1)
	go func() {
		r, err := Open(ctx, name, ModeRead)
		if err != nil {
			done <- nil
			return
		}
		defer r.Close()
		b, _ := io.ReadAll(r)
		done <- b
	}()

	w, err := Open(ctx, name, ModeWrite)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case b := <-done:
		assert.Equal(t, []byte("hello"), b)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not finish")
	}
}

func TestOpenTimesOutWithoutPeer(t *testing.T) {
	t.Parallel()
	name := filepath.Join(t.TempDir(), "p")
	require.NoError(t, Create(name, DefaultPerm))

	for _, mode := range []Mode{ModeRead, ModeWrite} {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		start := time.Now()
		f, err := Open(ctx, name, mode)
		cancel()

		assert.Nil(t, f, mode.String())
		require.Error(t, err, mode.String())
		assert.Equal(t, lpcerr.KindTimeout, lpcerr.KindOf(err), mode.String())
		assert.Less(t, time.Since(start), time.Second, mode.String())
	}
}

func TestOpenReadWriteNeverBlocks(t *testing.T) {
	t.Parallel()
	name := filepath.Join(t.TempDir(), "p")
	require.NoError(t, Create(name, DefaultPerm))

	f, err := Open(context.Background(), name, ModeReadWrite)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("loop"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	assert.Equal(t, "loop", string(buf))
}

func TestSetReadContextExpires(t *testing.T) {
	t.Parallel()
	name := filepath.Join(t.TempDir(), "p")
	require.NoError(t, Create(name, DefaultPerm))

	f, err := Open(context.Background(), name, ModeReadWrite)
	require.NoError(t, err)
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, SetReadContext(ctx, f))

	_, err = f.Read(make([]byte, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Equal(t, lpcerr.KindTimeout, lpcerr.KindOf(err))
}

func TestRendezvousLayout(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	rv := NewRendezvous(root)
	require.NoError(t, rv.Prepare())

	assert.DirExists(t, filepath.Join(root, DispatcherDir))
	assert.DirExists(t, filepath.Join(root, PipesDir))
	assert.Equal(t, filepath.Join(root, ".dispatcher", "install_req_pipe"), rv.InstallRequestPipe())
	assert.Equal(t, filepath.Join(root, ".dispatcher", "connection_req_pipe"), rv.ConnectionRequestPipe())
	assert.Equal(t, filepath.Join(root, ".pipes", "hello_pipe_in"), rv.Path(".pipes/hello_pipe_in"))
	assert.Equal(t, "/abs/p", rv.Path("/abs/p"))
	assert.Equal(t, ".pipes/x", rv.PipeName("x"))
	assert.Equal(t, ".", NewRendezvous("").Root)
}

func TestTimedOutOpenLeavesNoReader(t *testing.T) {
	t.Parallel()
	name := filepath.Join(t.TempDir(), "p")
	require.NoError(t, Create(name, DefaultPerm))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Open(ctx, name, ModeRead)
	require.Error(t, err)

	// A non-blocking write open fails with ENXIO while no reader holds the FIFO.
	_, err = os.OpenFile(name, os.O_WRONLY|unix.O_NONBLOCK, 0)
	assert.ErrorIs(t, err, unix.ENXIO)
}
