package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usergeteam/loader/internal/errs"
	"github.com/usergeteam/loader/internal/model"
)

// pipeRWC adapts a net.Conn half to the io.ReadWriteCloser Conn wants.
type pipeRWC struct{ net.Conn }

func newPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	return New(pipeRWC{a}), New(pipeRWC{b})
}

func TestCall_RoundTripsValue(t *testing.T) {
	client, server := newPair(t)
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		frame, err := server.Recv()
		require.NoError(t, err)
		assert.Equal(t, 7, frame.Job)
		assert.Equal(t, "main", frame.Args[0])
		require.NoError(t, server.Reply("ok"))
		close(done)
	}()

	result, err := client.Call(7, "main")
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	<-done
}

func TestCall_ErrorReplyBecomesGoError(t *testing.T) {
	client, server := newPair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		frame, _ := server.Recv()
		_ = server.ReplyError(assertError{msg: "boom: " + "job " + itoa(frame.Job)})
	}()

	_, err := client.Call(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCall_UnitReplyIsNil(t *testing.T) {
	client, server := newPair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = server.Recv()
		_ = server.Reply(nil)
	}()

	result, err := client.Call(1)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestCall_StructuredReplyRoundTrips(t *testing.T) {
	client, server := newPair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = server.Recv()
		_ = server.Reply([]model.Update{{Summary: "fix", Author: "alice", Version: "abc", Count: 3, URL: "u"}})
	}()

	result, err := client.Call(9)
	require.NoError(t, err)
	updates, ok := result.([]model.Update)
	require.True(t, ok)
	require.Len(t, updates, 1)
	assert.Equal(t, "alice", updates[0].Author)
}

func TestRecv_ClosedPipeIsConnectionLost(t *testing.T) {
	client, server := newPair(t)
	defer client.Close()
	require.NoError(t, server.Close())

	_, err := client.Recv()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConnectionLost)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}
