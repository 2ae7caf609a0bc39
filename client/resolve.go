package client

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"mini-lpc/lpcerr"
	"mini-lpc/message"
	"mini-lpc/pipe"
	"mini-lpc/protocol"
)

// Resolve performs one connect handshake for cfg.AccessPath. The response pipe
// is created and held open before the request is sent, so the broker's reply
// never waits on this side. A negative reply yields an UnknownAccessPath error.
func Resolve(ctx context.Context, cfg Config) (message.Registration, error) {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	rv := pipe.NewRendezvous(cfg.Root)
	if err := rv.Prepare(); err != nil {
		return message.Registration{}, err
	}
	name := cfg.ResponsePipe
	if name == "" {
		name = rv.PipeName("connect_" + uuid.NewString())
	}
	path := rv.Path(name)
	if err := pipe.Create(path, pipe.DefaultPerm); err != nil {
		return message.Registration{}, err
	}
	defer pipe.Remove(path)

	resp, err := pipe.Open(ctx, path, pipe.ModeReadWrite)
	if err != nil {
		return message.Registration{}, err
	}
	defer resp.Close()

	req := &protocol.ConnectionRequest{ResponsePipeName: name, AccessPath: cfg.AccessPath}
	if err := sendRequest(ctx, rv.ConnectionRequestPipe(), req); err != nil {
		return message.Registration{}, err
	}

	if err := pipe.SetReadContext(ctx, resp); err != nil {
		return message.Registration{}, lpcerr.Transport("connect", path, err)
	}
	p, err := protocol.ReadFrame(resp, protocol.KindConnect, cfg.MaxFrameSize)
	if err != nil {
		var fe *protocol.FramingError
		if errors.As(err, &fe) {
			return message.Registration{}, err
		}
		return message.Registration{}, lpcerr.Transport("connect", path, err)
	}

	reply := p.(*protocol.Connect)
	if !reply.Found() {
		return message.Registration{}, lpcerr.New(lpcerr.KindUnknownAccessPath, "connect").WithPath(cfg.AccessPath)
	}
	return message.Registration{
		AccessPath:     cfg.AccessPath,
		Version:        reply.Version,
		CallPipeName:   reply.CallPipeName,
		ReturnPipeName: reply.ReturnPipeName,
	}, nil
}

func sendRequest(ctx context.Context, name string, p protocol.Packet) error {
	f, err := pipe.Open(ctx, name, pipe.ModeWrite)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := pipe.SetWriteContext(ctx, f); err != nil {
		return lpcerr.Transport("connect", name, err)
	}
	if err := protocol.WriteFrame(f, p); err != nil {
		return lpcerr.Transport("connect", name, err)
	}
	return nil
}
