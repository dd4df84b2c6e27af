package funnel

import (
	"os"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// MemoryTokenPersister keeps the session token in process memory. It is
// the default for tests and for deployments that do not want sessions to
// survive a restart.
type MemoryTokenPersister struct {
	mu    sync.Mutex
	token string
}

func NewMemoryTokenPersister() *MemoryTokenPersister {
	return &MemoryTokenPersister{}
}

func (p *MemoryTokenPersister) Store(token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	return nil
}

func (p *MemoryTokenPersister) Load() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token, nil
}

func (p *MemoryTokenPersister) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	return nil
}

// FileTokenPersister stores the session token on disk so the startup
// resolution can restore the session after a restart.
type FileTokenPersister struct {
	path string
}

func NewFileTokenPersister(path string) *FileTokenPersister {
	return &FileTokenPersister{path: path}
}

func (p *FileTokenPersister) Store(token string) error {
	if err := os.WriteFile(p.path, []byte(token), 0o600); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist session token")
	}
	return nil
}

func (p *FileTokenPersister) Load() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read session token")
	}
	return string(data), nil
}

func (p *FileTokenPersister) Clear() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear session token")
	}
	return nil
}

var (
	_ TokenPersister = (*MemoryTokenPersister)(nil)
	_ TokenPersister = (*FileTokenPersister)(nil)
)
