package encode

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// progressParser consumes ffmpeg "-progress" key=value output and reports
// completion as a percentage of the media duration.
type progressParser struct {
	mu       sync.Mutex
	duration time.Duration
	report   func(float64)
	partial  []byte
	ended    bool
	last     float64
}

func newProgressParser(duration time.Duration, report func(float64)) *progressParser {
	return &progressParser{duration: duration, report: report, last: -1}
}

func (p *progressParser) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range b {
		if c == '\n' {
			p.line(strings.TrimSpace(string(p.partial)))
			p.partial = p.partial[:0]
			continue
		}
		p.partial = append(p.partial, c)
	}
	return len(b), nil
}

func (p *progressParser) line(line string) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg reports out_time_ms in microseconds as well.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 || p.duration <= 0 {
			return
		}
		pct := float64(time.Duration(us)*time.Microsecond) / float64(p.duration) * 100
		if pct > 100 {
			pct = 100
		}
		p.emit(pct)
	case "progress":
		if value == "end" {
			p.ended = true
			p.emit(100)
		}
	}
}

func (p *progressParser) emit(pct float64) {
	if pct <= p.last {
		return
	}
	p.last = pct
	if p.report != nil {
		p.report(pct)
	}
}

// Ended reports whether ffmpeg announced "progress=end".
func (p *progressParser) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}
