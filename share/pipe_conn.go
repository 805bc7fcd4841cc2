package bsshare

import (
	"io"
	"sync"
)

// PipeConn is one end of an in-memory FrameConn pair. Frames written to one
// end are read, in order, from the other. Closing either end ends both.
type PipeConn struct {
	name   string
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
	Stats  TrafficStats
}

// NewPipeConnPair creates two connected PipeConns with buffered queues of
// the given depth
func NewPipeConnPair(nameA, nameB string, depth int) (*PipeConn, *PipeConn) {
	ab := make(chan []byte, depth)
	ba := make(chan []byte, depth)
	closed := make(chan struct{})
	once := &sync.Once{}
	a := &PipeConn{name: nameA, in: ba, out: ab, closed: closed, once: once}
	b := &PipeConn{name: nameB, in: ab, out: ba, closed: closed, once: once}
	return a, b
}

func (c *PipeConn) String() string {
	return c.name
}

// ReadFrame implements FrameConn
func (c *PipeConn) ReadFrame() ([]byte, error) {
	select {
	case data := <-c.in:
		c.Stats.AddRead(len(data))
		return data, nil
	case <-c.closed:
		// drain what was written before the close
		select {
		case data := <-c.in:
			c.Stats.AddRead(len(data))
			return data, nil
		default:
		}
		return nil, io.EOF
	}
}

// WriteFrame implements FrameConn
func (c *PipeConn) WriteFrame(data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	buf := append([]byte(nil), data...)
	select {
	case c.out <- buf:
		c.Stats.AddWritten(len(buf))
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

// Close implements FrameConn
func (c *PipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// IsClosed returns true once either end has been closed
func (c *PipeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
