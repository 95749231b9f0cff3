package clipper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
)

// Engine produces one trimmed media file from a source. Implementations must
// re-encode rather than stream-copy because cut points are not guaranteed to
// land on keyframes.
type Engine interface {
	Cut(ctx context.Context, source, dest string, startTime, endTime float64) error
}

// FFmpegEngine shells out to ffmpeg with a fast preset. These are preview
// clips, so encode speed is favoured over output quality.
type FFmpegEngine struct {
	Binary string
	Logger *slog.Logger
}

// NewFFmpegEngine applies defaults for the binary name and logger.
func NewFFmpegEngine(logger *slog.Logger) *FFmpegEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegEngine{Binary: "ffmpeg", Logger: logger}
}

func (e *FFmpegEngine) Cut(ctx context.Context, source, dest string, startTime, endTime float64) error {
	binary := e.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	args := []string{
		"-y",
		"-ss", formatSeconds(startTime),
		"-to", formatSeconds(endTime),
		"-i", source,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-c:a", "aac",
		"-movflags", "+faststart",
		dest,
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = newLogWriter(e.Logger, "stdout")
	cmd.Stderr = newLogWriter(e.Logger, "stderr")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg cut %s [%s, %s): %w", source, formatSeconds(startTime), formatSeconds(endTime), err)
	}
	return nil
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}

type logWriter struct {
	logger *slog.Logger
	stream string
}

func newLogWriter(logger *slog.Logger, stream string) *logWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &logWriter{logger: logger, stream: stream}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("ffmpeg output", "stream", w.stream, "line", string(line))
	}
	return total, nil
}
