package extract

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

const progressInterval = 100 * time.Millisecond

// progressWriter counts bytes passing through it and reports percentages at
// most once per progressInterval.
type progressWriter struct {
	size       atomic.Int64
	total      atomic.Int64
	lastUpdate atomic.Int64 // Unix nanoseconds
	finished   atomic.Bool
	report     func(Event)
}

func newProgressWriter(size int64, report func(Event)) *progressWriter {
	pw := &progressWriter{report: report}
	pw.size.Store(size)
	pw.lastUpdate.Store(time.Now().UnixNano())
	return pw
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n := len(b)
	p.total.Add(int64(n))

	now := time.Now().UnixNano()
	last := p.lastUpdate.Load()
	if now-last >= progressInterval.Nanoseconds() {
		if p.lastUpdate.CompareAndSwap(last, now) {
			p.emit()
		}
	}
	return n, nil
}

func (p *progressWriter) emit() {
	if p.finished.Load() || p.report == nil {
		return
	}
	total := p.total.Load()
	size := p.size.Load()
	pct := -1.0
	if size > 0 {
		pct = float64(total) / float64(size) * 100
		if pct > 100 {
			pct = 100
		}
	}
	p.report(Event{Percent: pct, Bytes: total})
}

// Finish forces a last report.
func (p *progressWriter) Finish() {
	p.emit()
	p.finished.Store(true)
}

// Reset restarts counting for a new attempt of the same track.
func (p *progressWriter) Reset(size int64) {
	p.size.Store(size)
	p.total.Store(0)
	p.lastUpdate.Store(time.Now().UnixNano())
	p.finished.Store(false)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
		return r.r.Read(p)
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, &contextReader{ctx: ctx, r: src})
}
