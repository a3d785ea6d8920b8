package backend

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/lvcoi/tubeflow/internal/logging"
)

const encoderProbeTimeout = 5 * time.Second

// EncoderProbe answers whether ffmpeg can encode on this host. Results are
// not cached.
type EncoderProbe struct {
	binary string
	logger *slog.Logger
}

func NewEncoderProbe(binary string, logger *slog.Logger) *EncoderProbe {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &EncoderProbe{binary: binary, logger: logging.NewComponentLogger(logger, "encoder-probe")}
}

// Binary returns the ffmpeg executable the probe checks.
func (p *EncoderProbe) Binary() string { return p.binary }

// Available runs "ffmpeg -hide_banner -encoders" and reports true when at
// least one encoder is listed.
func (p *EncoderProbe) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, encoderProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary, "-hide_banner", "-encoders")
	cmd.WaitDelay = time.Second
	out, err := cmd.Output()
	if err != nil {
		p.logger.Debug("encoder listing failed", logging.Error(err))
		return false
	}
	n := countEncoders(out)
	if n == 0 {
		p.logger.Debug("encoder listing reported no encoders")
	}
	return n > 0
}

// countEncoders counts capability rows following the "------" separator of
// ffmpeg's -encoders output.
func countEncoders(listing []byte) int {
	scanner := bufio.NewScanner(bytes.NewReader(listing))
	inBody := false
	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !inBody {
			if strings.HasPrefix(line, "---") {
				inBody = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && len(fields[0]) == 6 {
			count++
		}
	}
	return count
}
