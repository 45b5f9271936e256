package supervisor

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usergeteam/loader/internal/errs"
	"github.com/usergeteam/loader/internal/pipeline"
	"github.com/usergeteam/loader/internal/store"
	"github.com/usergeteam/loader/internal/tasks"
	"github.com/usergeteam/loader/internal/transport"
)

type connRWC struct{ net.Conn }

// newServing wires a Supervisor to one end of an in-memory pipe and
// runs Serve on it, returning the child-side conn and the serve error
// channel.
func newServing(t *testing.T) (*transport.Conn, *tasks.Session, chan error) {
	t.Helper()

	parent, child := net.Pipe()
	s := &Supervisor{conn: transport.New(connRWC{parent})}
	t.Cleanup(func() { s.Terminate() })

	session := &tasks.Session{}
	p := pipeline.New(
		pipeline.WithStore(store.NewMemStore()),
		pipeline.WithCacheDir(t.TempDir()),
		pipeline.WithChildDir(t.TempDir()),
	)
	ctx := &tasks.Context{Pipeline: p, Session: session, EnvPath: t.TempDir() + "/config.env.tmp"}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	return transport.New(connRWC{child}), session, errCh
}

// The child asks for a hard restart: it gets a unit reply, and the
// session flags are set for the outer loop.
func TestServe_HardRestartSetsSessionFlags(t *testing.T) {
	childConn, session, _ := newServing(t)
	defer childConn.Close()

	result, err := childConn.Call(tasks.HardRestart)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.True(t, session.ShouldInit)
	assert.True(t, session.ShouldRestart)
}

func TestServe_UnknownJobComesBackAsErrorReply(t *testing.T) {
	childConn, _, _ := newServing(t)
	defer childConn.Close()

	_, err := childConn.Call(9999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}

// request/reply pairing: the k-th reply answers the k-th request.
func TestServe_RepliesStayPairedAcrossCalls(t *testing.T) {
	childConn, _, _ := newServing(t)
	defer childConn.Close()

	result, err := childConn.Call(tasks.ConstraintsAdd, "include", []string{"echo"})
	require.NoError(t, err)
	assert.Nil(t, result)

	result, err = childConn.Call(tasks.ConstraintsGet)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, result)

	result, err = childConn.Call(tasks.InvalidateReposCache)
	require.NoError(t, err)
	assert.Nil(t, result)
}

// After the restart reply, the serve loop exits cleanly so the outer
// loop can tear down and respawn.
func TestServe_RestartReplyEndsTheServeLoop(t *testing.T) {
	childConn, _, errCh := newServing(t)
	defer childConn.Close()

	_, err := childConn.Call(tasks.SoftRestart)
	require.NoError(t, err)
	assert.NoError(t, <-errCh)
}

func TestServe_ClosedChildEndExitsLoop(t *testing.T) {
	childConn, _, errCh := newServing(t)
	require.NoError(t, childConn.Close())

	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConnectionLost)
}
