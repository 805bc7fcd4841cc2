package bsshare

import (
	"fmt"
	"sync"
)

// target is one outbound leg of a session. Index 0 is reserved for the
// session's own loopback; targets are numbered from 1.
type target struct {
	Logger
	index    int
	endpoint string

	// reconnectLock is held by the supervisor for as long as it runs
	reconnectLock sync.Mutex

	connLock sync.Mutex
	conn     FrameConn
	sealed   bool
}

func newTarget(logger Logger, index int, endpoint string) *target {
	return &target{
		Logger:   logger.Fork("target#%d", index),
		index:    index,
		endpoint: endpoint,
	}
}

func (t *target) String() string {
	return fmt.Sprintf("target#%d(%s)", t.index, t.endpoint)
}

// Conn returns the live connection, or nil while the target is down
func (t *target) Conn() FrameConn {
	t.connLock.Lock()
	defer t.connLock.Unlock()
	return t.conn
}

// install makes conn the live connection. It fails once the target has been sealed.
func (t *target) install(conn FrameConn) bool {
	t.connLock.Lock()
	defer t.connLock.Unlock()
	if t.sealed {
		return false
	}
	t.conn = conn
	return true
}

// clear forgets conn if it is still the live connection
func (t *target) clear(conn FrameConn) bool {
	t.connLock.Lock()
	defer t.connLock.Unlock()
	if t.conn != conn {
		return false
	}
	t.conn = nil
	return true
}

// seal closes the live connection and refuses any later install
func (t *target) seal() {
	t.connLock.Lock()
	conn := t.conn
	t.conn = nil
	t.sealed = true
	t.connLock.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// write sends one frame. A failed write closes the connection so that its
// read loop ends and the supervisor takes over.
func (t *target) write(data []byte) bool {
	conn := t.Conn()
	if conn == nil {
		return false
	}
	if err := conn.WriteFrame(data); err != nil {
		t.WLogf("Write failed, dropping connection: %s", err)
		conn.Close()
		return false
	}
	return true
}
