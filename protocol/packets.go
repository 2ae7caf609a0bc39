package protocol

import (
	"encoding/binary"

	"mini-lpc/message"
)

func oversized(kind Kind, need int, limit uint64) error {
	return newFramingError(kind, ErrOversized, need, saturatedInt(limit))
}

func encodeInstallRequest(p *InstallRequest) ([]byte, error) {
	if len(p.PipeName) > MaxU16Field {
		return nil, oversized(KindInstallRequest, len(p.PipeName), MaxU16Field)
	}
	buf := make([]byte, 0, InstallRequestHeaderSize+len(p.PipeName))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.PipeName)))
	buf = append(buf, p.PipeName...)
	return buf, nil
}

func decodeInstallRequest(c *cursor) (Packet, error) {
	n := int(c.u16())
	p := &InstallRequest{PipeName: c.str(n)}
	if c.short {
		return nil, newFramingError(KindInstallRequest, ErrIncomplete, 0, 0)
	}
	return p, nil
}

func encodeConnectionRequest(p *ConnectionRequest) ([]byte, error) {
	for _, f := range []string{p.ResponsePipeName, p.AccessPath} {
		if uint64(len(f)) > MaxU32Field {
			return nil, oversized(KindConnectionRequest, len(f), MaxU32Field)
		}
	}
	buf := make([]byte, 0, ConnectionRequestHeaderSize+len(p.ResponsePipeName)+len(p.AccessPath))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.ResponsePipeName)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.AccessPath)))
	buf = append(buf, p.ResponsePipeName...)
	buf = append(buf, p.AccessPath...)
	return buf, nil
}

func decodeConnectionRequest(c *cursor) (Packet, error) {
	rpn := int(c.u32())
	ap := int(c.u32())
	p := &ConnectionRequest{
		ResponsePipeName: c.str(rpn),
		AccessPath:       c.str(ap),
	}
	if c.short {
		return nil, newFramingError(KindConnectionRequest, ErrIncomplete, 0, 0)
	}
	return p, nil
}

func encodeInstall(p *Install) ([]byte, error) {
	if len(p.Version) > MaxVersionLen {
		return nil, oversized(KindInstall, len(p.Version), MaxVersionLen)
	}
	for _, f := range []string{p.CallPipeName, p.ReturnPipeName, p.AccessPath} {
		if len(f) > MaxU16Field {
			return nil, oversized(KindInstall, len(f), MaxU16Field)
		}
	}
	size := InstallHeaderSize + len(p.Version) + len(p.CallPipeName) + len(p.ReturnPipeName) + len(p.AccessPath)
	buf := make([]byte, 0, size)
	buf = append(buf, uint8(len(p.Version)))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.CallPipeName)))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.ReturnPipeName)))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.AccessPath)))
	buf = append(buf, p.Version...)
	buf = append(buf, p.CallPipeName...)
	buf = append(buf, p.ReturnPipeName...)
	buf = append(buf, p.AccessPath...)
	return buf, nil
}

func decodeInstall(c *cursor) (Packet, error) {
	vl := int(c.u8())
	cpn := int(c.u16())
	rpn := int(c.u16())
	ap := int(c.u16())
	p := &Install{
		Version:        c.str(vl),
		CallPipeName:   c.str(cpn),
		ReturnPipeName: c.str(rpn),
		AccessPath:     c.str(ap),
	}
	if c.short {
		return nil, newFramingError(KindInstall, ErrIncomplete, 0, 0)
	}
	return p, nil
}

func encodeConnect(p *Connect) ([]byte, error) {
	if len(p.Version) > MaxVersionLen {
		return nil, oversized(KindConnect, len(p.Version), MaxVersionLen)
	}
	for _, f := range []string{p.CallPipeName, p.ReturnPipeName} {
		if uint64(len(f)) > MaxU32Field {
			return nil, oversized(KindConnect, len(f), MaxU32Field)
		}
	}
	size := ConnectHeaderSize + len(p.Version) + len(p.CallPipeName) + len(p.ReturnPipeName)
	buf := make([]byte, 0, size)
	buf = append(buf, uint8(len(p.Version)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.CallPipeName)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.ReturnPipeName)))
	buf = append(buf, p.Version...)
	buf = append(buf, p.CallPipeName...)
	buf = append(buf, p.ReturnPipeName...)
	return buf, nil
}

func decodeConnect(c *cursor) (Packet, error) {
	vl := int(c.u8())
	cpn := int(c.u32())
	rpn := int(c.u32())
	p := &Connect{
		Version:        c.str(vl),
		CallPipeName:   c.str(cpn),
		ReturnPipeName: c.str(rpn),
	}
	if c.short {
		return nil, newFramingError(KindConnect, ErrIncomplete, 0, 0)
	}
	return p, nil
}

func encodeEnvelope(kind Kind, env *message.Envelope) ([]byte, error) {
	if len(env.Function) > MaxFunctionLen {
		return nil, oversized(kind, len(env.Function), MaxFunctionLen)
	}
	if len(env.Args) > MaxArgs {
		return nil, oversized(kind, len(env.Args), MaxArgs)
	}
	if kind == KindReturning && len(env.Args) != 1 {
		return nil, newFramingError(kind, ErrInvalidArity, 1, len(env.Args))
	}
	var total uint64
	for _, a := range env.Args {
		total += uint64(len(a))
	}
	if total > MaxU32Field {
		return nil, oversized(kind, saturatedInt(total), MaxU32Field)
	}

	size := CallingHeaderSize + len(env.Function) + 4*len(env.Args) + int(total)
	buf := make([]byte, 0, size)
	buf = append(buf, uint8(len(env.Function)), uint8(len(env.Args)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(total))
	buf = append(buf, env.Token[:]...)
	buf = append(buf, env.Function...)
	for _, a := range env.Args {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(a)))
	}
	for _, a := range env.Args {
		buf = append(buf, a...)
	}
	return buf, nil
}

func decodeEnvelope(kind Kind, c *cursor) (*message.Envelope, error) {
	fnLen := int(c.u8())
	argc := int(c.u8())
	total := uint64(c.u32())

	env := &message.Envelope{}
	copy(env.Token[:], c.take(message.TokenSize))

	if kind == KindReturning && argc != 1 {
		return nil, newFramingError(kind, ErrInvalidArity, 1, argc)
	}

	env.Function = c.str(fnLen)
	lens := make([]uint32, argc)
	var sum uint64
	for i := range lens {
		lens[i] = c.u32()
		sum += uint64(lens[i])
	}
	if c.short {
		return nil, newFramingError(kind, ErrIncomplete, 0, 0)
	}
	if sum != total {
		return nil, newFramingError(kind, ErrLengthMismatch, saturatedInt(total), saturatedInt(sum))
	}

	if argc > 0 {
		env.Args = make([][]byte, argc)
		for i, n := range lens {
			env.Args[i] = c.take(int(n))
		}
	}
	if c.short {
		return nil, newFramingError(kind, ErrIncomplete, 0, 0)
	}
	return env, nil
}
