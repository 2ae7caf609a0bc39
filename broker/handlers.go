package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"mini-lpc/lpcerr"
	"mini-lpc/message"
	"mini-lpc/pipe"
	"mini-lpc/protocol"
)

var (
	errIncompleteInstall = errors.New("install without access path or call pipe")
	errStaleInstall      = errors.New("a later install for this access path is already registered")
)

func (b *Broker) handleInstall(ctx context.Context, seq uint64, p protocol.Packet) {
	req := p.(*protocol.InstallRequest)
	start := time.Now()
	log := b.log.With().Str("type", "install").Str("pipe", req.PipeName).Logger()
	log.Debug().Stringer("state", StateReceived).Msg("Install request")

	state, err := b.install(ctx, seq, req, log)
	b.metrics.RecordRequest("install", state, time.Since(start))
	if err != nil {
		log.Warn().Err(err).Stringer("state", state).Msg("Install rejected")
	}
}

// install opens the private pipe named by req, reads the Install packet the
// service writes there and records the registration unless a request that
// arrived after this one has already registered the same access path.
func (b *Broker) install(ctx context.Context, seq uint64, req *protocol.InstallRequest, log zerolog.Logger) (State, error) {
	path := b.rv.Path(req.PipeName)
	if err := pipe.Create(path, pipe.DefaultPerm); err != nil {
		return StateRejected, err
	}
	f, err := pipe.Open(ctx, path, pipe.ModeRead)
	if err != nil {
		return StateRejected, err
	}
	defer f.Close()

	if err := pipe.SetReadContext(ctx, f); err != nil {
		return StateRejected, lpcerr.Transport("install", path, err)
	}
	p, err := protocol.ReadFrame(f, protocol.KindInstall, b.cfg.MaxFrameSize)
	if err != nil {
		var fe *protocol.FramingError
		if errors.As(err, &fe) {
			return StateRejected, err
		}
		return StateRejected, lpcerr.Transport("install", path, err)
	}
	in := p.(*protocol.Install)
	log.Debug().Stringer("state", StateParsed).Str("access_path", in.AccessPath).Msg("Install parsed")

	if in.AccessPath == "" || in.CallPipeName == "" {
		return StateRejected, errIncompleteInstall
	}

	reg := message.Registration{
		AccessPath:     in.AccessPath,
		Version:        in.Version,
		CallPipeName:   in.CallPipeName,
		ReturnPipeName: in.ReturnPipeName,
		InstalledAt:    time.Now().UTC(),
	}
	prev, replaced, err := b.register(seq, reg)
	if err != nil {
		return StateRejected, err
	}

	ev := log.Info().
		Stringer("state", StateRegistered).
		Str("access_path", reg.AccessPath).
		Str("version", reg.Version).
		Str("call_pipe", reg.CallPipeName).
		Str("return_pipe", reg.ReturnPipeName)
	if replaced {
		ev = ev.Str("replaced_call_pipe", prev.CallPipeName)
	}
	ev.Msg("Service installed")

	if b.pub != nil {
		if err := b.pub.Publish(ctx, reg); err != nil {
			log.Warn().Err(err).Str("access_path", reg.AccessPath).Msg("Publish failed")
		}
	}
	return StateRegistered, nil
}

func (b *Broker) register(seq uint64, reg message.Registration) (message.Registration, bool, error) {
	b.orderMu.Lock()
	defer b.orderMu.Unlock()
	if seq < b.applied[reg.AccessPath] {
		return message.Registration{}, false, errStaleInstall
	}
	b.applied[reg.AccessPath] = seq
	prev, replaced := b.table.Register(reg)
	b.metrics.Registrations.Set(float64(b.table.Len()))
	return prev, replaced, nil
}

func (b *Broker) handleConnect(ctx context.Context, _ uint64, p protocol.Packet) {
	req := p.(*protocol.ConnectionRequest)
	start := time.Now()
	log := b.log.With().
		Str("type", "connect").
		Str("access_path", req.AccessPath).
		Str("pipe", req.ResponsePipeName).
		Logger()
	log.Debug().Stringer("state", StateReceived).Msg("Connection request")

	state, err := b.connect(ctx, req, log)
	b.metrics.RecordRequest("connect", state, time.Since(start))
	if err != nil {
		log.Warn().Err(err).Stringer("state", state).Msg("Connect rejected")
	}
}

// connect answers on the client's response pipe. An unknown access path is
// answered with an empty Connect so the client fails fast instead of waiting.
func (b *Broker) connect(ctx context.Context, req *protocol.ConnectionRequest, log zerolog.Logger) (State, error) {
	log.Debug().Stringer("state", StateParsed).Msg("Connect parsed")

	reply := &protocol.Connect{}
	state := StateResolved
	var resolveErr error
	if reg, err := b.Resolve(req.AccessPath); err == nil {
		reply.Version = reg.Version
		reply.CallPipeName = reg.CallPipeName
		reply.ReturnPipeName = reg.ReturnPipeName
	} else {
		state, resolveErr = StateRejected, err
	}

	path := b.rv.Path(req.ResponsePipeName)
	f, err := pipe.Open(ctx, path, pipe.ModeWrite)
	if err != nil {
		return StateRejected, errors.Join(resolveErr, err)
	}
	defer f.Close()

	if err := pipe.SetWriteContext(ctx, f); err != nil {
		return StateRejected, lpcerr.Transport("connect", path, err)
	}
	if err := protocol.WriteFrame(f, reply); err != nil {
		return StateRejected, errors.Join(resolveErr, lpcerr.Transport("connect", path, err))
	}

	if state == StateResolved {
		log.Info().Stringer("state", state).Str("call_pipe", reply.CallPipeName).Msg("Access path resolved")
	}
	return state, resolveErr
}
