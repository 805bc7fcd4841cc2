package bsshare

import (
	"fmt"
	"sync/atomic"

	"github.com/jpillora/sizestr"
)

// ConnStats keeps track of both currently open and total connection counts for an entity
type ConnStats struct {
	count int32
	open  int32
}

// New adds one to the total connection count and returns the new total
func (c *ConnStats) New() int32 {
	return atomic.AddInt32(&c.count, 1)
}

// Open adds one to the open connection count
func (c *ConnStats) Open() {
	atomic.AddInt32(&c.open, 1)
}

// Close subtracts one from the open connection count
func (c *ConnStats) Close() {
	atomic.AddInt32(&c.open, -1)
}

// OpenCount returns the number of open connections
func (c *ConnStats) OpenCount() int32 {
	return atomic.LoadInt32(&c.open)
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d]", atomic.LoadInt32(&c.open), atomic.LoadInt32(&c.count))
}

// TrafficStats counts frames and bytes in each direction of a FrameConn
type TrafficStats struct {
	FramesRead    int64
	FramesWritten int64
	BytesRead     int64
	BytesWritten  int64
}

// AddRead records one received frame of n bytes
func (s *TrafficStats) AddRead(n int) {
	atomic.AddInt64(&s.FramesRead, 1)
	atomic.AddInt64(&s.BytesRead, int64(n))
}

// AddWritten records one sent frame of n bytes
func (s *TrafficStats) AddWritten(n int) {
	atomic.AddInt64(&s.FramesWritten, 1)
	atomic.AddInt64(&s.BytesWritten, int64(n))
}

// Snapshot returns a consistent-enough copy for reporting
func (s *TrafficStats) Snapshot() TrafficStats {
	return TrafficStats{
		FramesRead:    atomic.LoadInt64(&s.FramesRead),
		FramesWritten: atomic.LoadInt64(&s.FramesWritten),
		BytesRead:     atomic.LoadInt64(&s.BytesRead),
		BytesWritten:  atomic.LoadInt64(&s.BytesWritten),
	}
}

func (s *TrafficStats) String() string {
	v := s.Snapshot()
	return fmt.Sprintf("in %d frames (%s), out %d frames (%s)",
		v.FramesRead, sizestr.ToString(v.BytesRead), v.FramesWritten, sizestr.ToString(v.BytesWritten))
}
