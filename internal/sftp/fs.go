// Package sftp backs the script file primitives with files on the gateway
// host, reached over the session's SSH connection.
package sftp

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sync"

	"github.com/pkg/sftp"

	"github.com/acolita/rotinas/internal/ports"
)

// Provider hands out the SFTP client of a live connection.
type Provider interface {
	SFTP() (*sftp.Client, error)
}

// FS implements ports.FileSystem over SFTP. The remote login directory is
// the home directory.
type FS struct {
	provider Provider
	env      map[string]string

	mu   sync.Mutex
	home string
}

// Option configures an FS.
type Option func(*FS)

// WithEnv sets the values Getenv reports. SFTP cannot read the remote
// environment.
func WithEnv(env map[string]string) Option {
	return func(f *FS) { f.env = env }
}

// New returns an FS using provider.
func New(provider Provider, opts ...Option) *FS {
	f := &FS{provider: provider, env: map[string]string{}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FS) client() (*sftp.Client, error) {
	c, err := f.provider.SFTP()
	if err != nil {
		return nil, fmt.Errorf("sftp unavailable: %w", err)
	}
	return c, nil
}

// ReadFile reads a remote file.
func (f *FS) ReadFile(name string) ([]byte, error) {
	c, err := f.client()
	if err != nil {
		return nil, err
	}
	file, err := c.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// WriteFile creates or truncates a remote file.
func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return f.write(name, data, perm, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

// AppendFile appends to a remote file, creating it if needed.
func (f *FS) AppendFile(name string, data []byte, perm fs.FileMode) error {
	return f.write(name, data, perm, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
}

func (f *FS) write(name string, data []byte, perm fs.FileMode, flags int) error {
	c, err := f.client()
	if err != nil {
		return err
	}
	file, err := c.OpenFile(name, flags)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if flags&os.O_TRUNC != 0 {
		return c.Chmod(name, perm)
	}
	return nil
}

// Stat returns remote file info.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	c, err := f.client()
	if err != nil {
		return nil, err
	}
	return c.Stat(name)
}

// MkdirAll creates remote directories.
func (f *FS) MkdirAll(p string, _ fs.FileMode) error {
	c, err := f.client()
	if err != nil {
		return err
	}
	return c.MkdirAll(p)
}

// Remove deletes a remote file or empty directory.
func (f *FS) Remove(name string) error {
	c, err := f.client()
	if err != nil {
		return err
	}
	return c.Remove(name)
}

// Rename replaces newpath with oldpath.
func (f *FS) Rename(oldpath, newpath string) error {
	c, err := f.client()
	if err != nil {
		return err
	}
	return c.PosixRename(oldpath, newpath)
}

// UserHomeDir returns the remote login directory.
func (f *FS) UserHomeDir() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.home != "" {
		return f.home, nil
	}
	c, err := f.client()
	if err != nil {
		return "", err
	}
	wd, err := c.Getwd()
	if err != nil {
		return "", fmt.Errorf("remote home: %w", err)
	}
	f.home = path.Clean(wd)
	return f.home, nil
}

// Getenv returns a configured value.
func (f *FS) Getenv(key string) string {
	return f.env[key]
}

var _ ports.FileSystem = (*FS)(nil)
