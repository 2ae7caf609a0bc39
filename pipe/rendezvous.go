package pipe

import (
	"os"
	"path/filepath"

	"mini-lpc/lpcerr"
)

const (
	// DispatcherDir holds the broker's well-known request pipes.
	DispatcherDir = ".dispatcher"
	// PipesDir holds application pipes created by services and clients.
	PipesDir = ".pipes"

	InstallRequestPipeName    = "install_req_pipe"
	ConnectionRequestPipeName = "connection_req_pipe"
)

// Rendezvous is the directory tree every LPC component on a host agrees on.
// Pipe names carried on the wire are relative to Root unless absolute.
type Rendezvous struct {
	Root string
}

// NewRendezvous returns the layout rooted at root ("." when empty).
func NewRendezvous(root string) Rendezvous {
	if root == "" {
		root = "."
	}
	return Rendezvous{Root: root}
}

// Prepare creates the dispatcher and pipes directories if missing.
func (r Rendezvous) Prepare() error {
	for _, dir := range []string{DispatcherDir, PipesDir} {
		p := filepath.Join(r.Root, dir)
		if err := os.MkdirAll(p, 0o700); err != nil {
			return lpcerr.Transport("mkdir", p, err)
		}
	}
	return nil
}

// InstallRequestPipe is the path services announce themselves on.
func (r Rendezvous) InstallRequestPipe() string {
	return filepath.Join(r.Root, DispatcherDir, InstallRequestPipeName)
}

// ConnectionRequestPipe is the path clients send connection requests on.
func (r Rendezvous) ConnectionRequestPipe() string {
	return filepath.Join(r.Root, DispatcherDir, ConnectionRequestPipeName)
}

// Path resolves a pipe name from the wire against Root.
func (r Rendezvous) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.Root, name)
}

// PipeName returns the wire name for a file in the pipes directory.
func (r Rendezvous) PipeName(base string) string {
	return filepath.Join(PipesDir, base)
}
