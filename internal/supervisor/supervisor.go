// Package supervisor spawns the child process, serves its RPC
// requests over the duplex pipe, handles termination signals, and
// drives the restart loop.
package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/usergeteam/loader/internal/errs"
	"github.com/usergeteam/loader/internal/log"
	"github.com/usergeteam/loader/internal/pipeline"
	"github.com/usergeteam/loader/internal/tasks"
	"github.com/usergeteam/loader/internal/transport"
)

var lg = log.Named("supervisor")

// pipeEnd adapts a pair of unidirectional OS pipes into the
// io.ReadWriteCloser transport.Conn needs.
type pipeEnd struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (p pipeEnd) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipeEnd) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p pipeEnd) Close() error {
	err1 := p.r.Close()
	err2 := p.w.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Supervisor owns the child process and its RPC connection for one
// pass of the spawn-serve-restart loop.
type Supervisor struct {
	ChildPath string
	ChildArgs []string
	ChildDir  string

	cmd  *exec.Cmd
	conn *transport.Conn
}

// New builds a Supervisor that will launch childPath in childDir.
func New(childPath, childDir string, childArgs ...string) *Supervisor {
	return &Supervisor{ChildPath: childPath, ChildArgs: childArgs, ChildDir: childDir}
}

// Spawn starts the child with a pair of OS pipes connecting its
// stdin/stdout to the parent's transport.Conn.
func (s *Supervisor) Spawn() error {
	cmd := exec.Command(s.ChildPath, s.ChildArgs...)
	cmd.Dir = s.ChildDir
	cmd.Stderr = os.Stderr

	childStdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	childStdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	s.cmd = cmd
	s.conn = transport.New(pipeEnd{r: childStdout, w: childStdin})
	return nil
}

// Terminate kills the child and closes the pipe.
func (s *Supervisor) Terminate() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
}

// Serve runs the blocking request/reply loop: block for a request,
// dispatch via the task registry, write the reply back. It installs
// SIGINT/SIGTERM/SIGABRT handlers that close the pipe and kill the
// child, and returns when the connection is lost, a signal arrives,
// or a dispatched job requested a restart.
func (s *Supervisor) Serve(ctx *tasks.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGABRT)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			lg.Infow("signal received, terminating child")
			s.Terminate()
		case <-done:
		}
	}()
	defer close(done)

	for {
		frame, err := s.conn.Recv()
		if err != nil {
			if errors.Is(err, errs.ErrConnectionLost) {
				lg.Infow("rpc connection lost")
				return err
			}
			return err
		}

		result, herr := tasks.Handle(ctx, frame.Job, frame.Args)
		if herr != nil {
			if sendErr := s.conn.ReplyError(herr); sendErr != nil {
				return sendErr
			}
			continue
		}
		if sendErr := s.conn.Reply(result); sendErr != nil {
			return sendErr
		}
		if ctx.Session.ShouldRestart {
			// restart jobs get their unit reply first, then the child
			// is torn down so the outer loop can honor the flags.
			return nil
		}
	}
}

// RunLoop is the outermost spawn/serve/restart cycle: run the
// materialization pipeline (when should_init), spawn the child, serve
// its RPCs until the connection drops or a signal fires, then honor
// the session's soft/hard restart flags.
func RunLoop(ctx context.Context, p *pipeline.Pipeline, session *tasks.Session, childPath, childDir string, envPath string) error {
	session.ShouldInit = true

	for {
		if session.ShouldInit {
			if err := p.Run(ctx); err != nil {
				return err
			}
		}

		sup := New(childPath, childDir)
		if err := sup.Spawn(); err != nil {
			return err
		}

		tctx := &tasks.Context{Pipeline: p, Session: session, EnvPath: envPath}
		session.ShouldRestart = false
		_ = sup.Serve(tctx)
		sup.Terminate()

		if !session.ShouldRestart {
			return nil
		}
		lg.Infow("restarting", "should_init", session.ShouldInit)
	}
}
