// Package transport implements the duplex, length-framed RPC pipe
// between the loader and its child: a blocking call, a cooperatively
// polling call, and the request/reply framing both share.
package transport

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/usergeteam/loader/internal/errs"
	"github.com/usergeteam/loader/internal/model"
)

// gob transmits interface values by concrete type name, so every type
// that can appear in Frame.Args or a reply must be registered up front.
func init() {
	gob.Register(int(0))
	gob.Register(string(""))
	gob.Register(bool(false))
	gob.Register([]string(nil))
	gob.Register([]interface{}(nil))
	gob.Register(errorReply{})
	gob.Register(unitReply{})
	gob.Register(model.RepoInfo{})
	gob.Register([]*model.RepoInfo(nil))
	gob.Register(model.Update{})
	gob.Register([]model.Update(nil))
}

// Frame is one request or reply on the wire: a numeric job tag plus a
// heterogeneous argument list, gob-encoded. gob's self-describing
// type stream keeps the frame format independent of which job's
// arguments it carries.
type Frame struct {
	Job  int
	Args []interface{}
}

// errorReply is how a handler error crosses the wire: the receiving
// side unwraps it back into a Go error rather than a value.
type errorReply struct {
	Message string
}

// unitReply stands in for a nil reply value, which gob cannot carry
// inside an interface slot.
type unitReply struct{}

// Conn wraps one end of the duplex pipe with two ordered locks:
// asyncMu guards an entire cooperative call, syncMu guards a single
// send/receive exchange. Always acquire asyncMu before syncMu.
type Conn struct {
	rw      io.ReadWriteCloser
	syncMu  sync.Mutex
	asyncMu sync.Mutex
}

// New wraps rw as a Conn. rw is typically one end of an os/exec pipe
// pair.
func New(rw io.ReadWriteCloser) *Conn {
	return &Conn{rw: rw}
}

// send writes one length-prefixed gob-encoded frame. The frame is
// encoded to memory first so its length is known before the prefix is
// written.
func (c *Conn) send(f Frame) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return err
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := c.rw.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrConnectionLost, err)
	}
	if _, err := c.rw.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrConnectionLost, err)
	}
	return nil
}

// recv blocks for one length-prefixed gob-encoded frame.
func (c *Conn) recv() (Frame, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(c.rw, lenPrefix[:]); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errs.ErrConnectionLost, err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errs.ErrConnectionLost, err)
	}

	var f Frame
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errs.ErrConnectionLost, err)
	}
	return f, nil
}

// Call is the blocking send: acquire the sync lock, send, block-receive
// the reply, release.
func (c *Conn) Call(job int, args ...interface{}) (interface{}, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	return c.callLocked(job, args)
}

// CallCooperative acquires the async-aware lock, then the sync lock,
// sends, then polls for a reply sleeping ~500ms between attempts
// instead of blocking the caller's event loop.
func (c *Conn) CallCooperative(job int, args ...interface{}) (interface{}, error) {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	return c.callLocked(job, args)
}

func (c *Conn) callLocked(job int, args []interface{}) (interface{}, error) {
	if err := c.send(Frame{Job: job, Args: args}); err != nil {
		return nil, err
	}
	reply, err := c.recv()
	if err != nil {
		return nil, err
	}
	return unwrapReply(reply)
}

// PollCooperative behaves like CallCooperative but polls readiness
// explicitly, sleeping ~500ms between attempts, for transports where
// recv cannot itself block (e.g. a pipe shared with an external event
// loop).
func (c *Conn) PollCooperative(ready func() bool, job int, args ...interface{}) (interface{}, error) {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	if err := c.send(Frame{Job: job, Args: args}); err != nil {
		return nil, err
	}
	for !ready() {
		time.Sleep(500 * time.Millisecond)
	}
	reply, err := c.recv()
	if err != nil {
		return nil, err
	}
	return unwrapReply(reply)
}

// Reply sends a successful value back as a reply frame. A nil value
// becomes the unit reply on the wire.
func (c *Conn) Reply(value interface{}) error {
	if value == nil {
		value = unitReply{}
	}
	return c.send(Frame{Job: -1, Args: []interface{}{value}})
}

// ReplyError sends a handler error back as a reply frame; the caller's
// Call/CallCooperative unwraps it into a Go error.
func (c *Conn) ReplyError(err error) error {
	return c.send(Frame{Job: -1, Args: []interface{}{errorReply{Message: err.Error()}}})
}

// Recv blocks for the next incoming request frame, used by the
// supervisor's RPC loop on the child-end-facing side.
func (c *Conn) Recv() (Frame, error) {
	return c.recv()
}

func unwrapReply(f Frame) (interface{}, error) {
	if len(f.Args) != 1 {
		return nil, fmt.Errorf("%w: malformed reply", errs.ErrConnectionLost)
	}
	if e, ok := f.Args[0].(errorReply); ok {
		return nil, errors.New(e.Message)
	}
	if _, ok := f.Args[0].(unitReply); ok {
		return nil, nil
	}
	return f.Args[0], nil
}

// Close closes the underlying pipe end.
func (c *Conn) Close() error { return c.rw.Close() }

