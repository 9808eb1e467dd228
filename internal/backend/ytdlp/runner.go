package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

const maxStderrKeep = 8192

// Output is what a finished command wrote
type Output struct {
	Stdout []byte
	Stderr string
}

// Runner executes the backend binary
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Output, error)
}

// ExecRunner runs commands as child processes. Canceling ctx kills the process.
type ExecRunner struct {
	Logger *slog.Logger
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	// stderr must be fully read before Wait closes the pipe
	var errBuf strings.Builder
	r.readStderr(stderrPipe, &errBuf)

	err = cmd.Wait()
	return &Output{Stdout: stdout.Bytes(), Stderr: errBuf.String()}, err
}

func (r *ExecRunner) readStderr(src io.Reader, dst *strings.Builder) {
	scanner := bufio.NewScanner(src)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	scanner.Split(splitByNewlineOrCR)
	for scanner.Scan() {
		line := scanner.Text()
		appendLimited(dst, line)
		if r.Logger != nil {
			r.Logger.Debug("yt-dlp", slog.String("line", line))
		}
	}
	// keep draining so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, src)
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// appendLimited keeps the most recent lines within maxStderrKeep bytes;
// yt-dlp reports the fatal error last.
func appendLimited(b *strings.Builder, line string) {
	line += "\n"
	if len(line) > maxStderrKeep {
		line = line[len(line)-maxStderrKeep:]
	}
	if b.Len()+len(line) <= maxStderrKeep {
		b.WriteString(line)
		return
	}

	kept := b.String()
	drop := b.Len() + len(line) - maxStderrKeep
	if i := strings.IndexByte(kept[drop:], '\n'); i >= 0 {
		drop += i + 1
	} else {
		drop = len(kept)
	}
	b.Reset()
	b.WriteString(kept[drop:])
	b.WriteString(line)
}
