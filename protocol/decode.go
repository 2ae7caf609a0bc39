package protocol

import "mini-lpc/message"

func decodeAs[T Packet](kind Kind, data []byte) (T, int, error) {
	var zero T
	p, n, err := Decode(kind, data)
	if err != nil {
		return zero, 0, err
	}
	return p.(T), n, nil
}

func DecodeInstallRequest(data []byte) (*InstallRequest, int, error) {
	return decodeAs[*InstallRequest](KindInstallRequest, data)
}

func DecodeConnectionRequest(data []byte) (*ConnectionRequest, int, error) {
	return decodeAs[*ConnectionRequest](KindConnectionRequest, data)
}

func DecodeInstall(data []byte) (*Install, int, error) {
	return decodeAs[*Install](KindInstall, data)
}

func DecodeConnect(data []byte) (*Connect, int, error) {
	return decodeAs[*Connect](KindConnect, data)
}

// DecodeCall parses a Calling frame into an envelope.
func DecodeCall(data []byte) (*message.Envelope, int, error) {
	p, n, err := decodeAs[*Calling](KindCalling, data)
	return (*message.Envelope)(p), n, err
}

// DecodeReturn parses a Returning frame into an envelope.
func DecodeReturn(data []byte) (*message.Envelope, int, error) {
	p, n, err := decodeAs[*Returning](KindReturning, data)
	return (*message.Envelope)(p), n, err
}
