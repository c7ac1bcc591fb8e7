package proxy

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"

	"gopkg.in/src-d/go-billy.v4"
)

// ErrRepositoryNotFound is returned by backend functions when the
// requested repository does not exist under their root.
var ErrRepositoryNotFound = errors.New("repository not found")

// Backend is the I/O surface of one spawned service process. It is
// used for a single request and then discarded.
type Backend interface {
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	Start() error
	Wait() error
	io.Closer
}

// BackendFunc prepares a Backend for one invocation of the given
// service on a repository. The args carry the invocation mode flags
// (--stateless-rpc, --advertise-refs) chosen by the engine; the
// function appends whatever target argument its execution model needs.
type BackendFunc func(ctx context.Context, repository, service string, args ...string) (Backend, error)

// GitBackend returns a BackendFunc that resolves repositories against
// root and spawns the git binary for each request. An empty bin runs
// plain "git" from $PATH.
func GitBackend(root billy.Filesystem, bin string) BackendFunc {
	if bin == "" {
		bin = "git"
	}

	return func(ctx context.Context, repository, service string, args ...string) (Backend, error) {
		if repository == "" {
			return nil, ErrRepositoryNotFound
		}

		if _, err := root.Stat(repository); err != nil {
			return nil, ErrRepositoryNotFound
		}

		dir := root.Join(root.Root(), repository)
		argv := append([]string{service}, append(args, dir)...)

		return &gitBackend{cmd: exec.CommandContext(ctx, bin, argv...)}, nil
	}
}

type gitBackend struct {
	cmd *exec.Cmd

	once    sync.Once
	waitErr error
}

func (b *gitBackend) StdinPipe() (io.WriteCloser, error) {
	return b.cmd.StdinPipe()
}

func (b *gitBackend) StdoutPipe() (io.Reader, error) {
	return b.cmd.StdoutPipe()
}

func (b *gitBackend) StderrPipe() (io.Reader, error) {
	return b.cmd.StderrPipe()
}

func (b *gitBackend) Start() error {
	return b.cmd.Start()
}

func (b *gitBackend) Wait() error {
	b.once.Do(func() {
		b.waitErr = b.cmd.Wait()
	})

	return b.waitErr
}

// Close reaps the process. If the normal Wait has not happened yet the
// stream was abandoned mid flight, so the process is killed first
// rather than left writing to a dead sink.
func (b *gitBackend) Close() error {
	if b.cmd.Process == nil {
		return nil
	}

	b.once.Do(func() {
		_ = b.cmd.Process.Kill()
		b.waitErr = b.cmd.Wait()
	})

	return b.waitErr
}
