package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeJSON = `{
  "id": "abc123",
  "title": "Demo: 100% real/clip",
  "uploader": "someone",
  "duration": 12.5,
  "ext": "mp4",
  "webpage_url": "https://example.com/watch?v=abc123",
  "formats": [
    {"format_id": "18", "ext": "mp4", "resolution": "640x360", "fps": 30, "vcodec": "avc1", "acodec": "mp4a", "filesize": 1048576, "tbr": 500.5},
    {"format_id": "140", "ext": "m4a", "resolution": "audio only", "vcodec": "none", "acodec": "mp4a", "filesize_approx": 2048.7, "format_note": "medium"}
  ]
}`

type fakeRunner struct {
	calls    [][]string
	probe    string
	stderr   string
	fail     bool
	download func(args []string) (*Output, error)
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) (*Output, error) {
	f.calls = append(f.calls, args)
	if f.fail {
		return &Output{Stderr: f.stderr}, errors.New("exit status 1")
	}
	if slices.Contains(args, "-J") {
		return &Output{Stdout: []byte(f.probe)}, nil
	}
	return f.download(args)
}

// writeFromTemplate mimics yt-dlp writing the file named by the -o template
func writeFromTemplate(args []string) (*Output, error) {
	tmpl := args[slices.Index(args, "-o")+1]
	path := strings.ReplaceAll(strings.TrimSuffix(tmpl, ".%(ext)s"), "%%", "%") + ".mp4"
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		return nil, err
	}
	line := fmt.Sprintf(`{"filepath": %q, "format_id": "18", "ext": "mp4"}`, path)
	return &Output{Stdout: []byte("[info] writing\n" + line + "\n")}, nil
}

type staticCreds map[string][]string

func (s staticCreds) Args(ref string) ([]string, error) {
	args, ok := s[ref]
	if !ok {
		return nil, fmt.Errorf("%w: unknown credential", domain.ErrInvalidRequest)
	}
	return args, nil
}

func newTestClient(r Runner) *Client {
	return New(Config{
		Runner:      r,
		Credentials: staticCreds{"main": {"--cookies", "/creds/main.txt"}},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestClient_Probe(t *testing.T) {
	runner := &fakeRunner{probe: probeJSON}
	c := newTestClient(runner)

	info, err := c.Probe(context.Background(), "https://example.com/watch?v=abc123", "main")
	require.NoError(t, err)

	assert.Equal(t, "abc123", info.ID)
	assert.Equal(t, "Demo: 100% real/clip", info.Title)
	assert.Equal(t, 12.5, info.DurationSeconds)
	require.Len(t, info.Formats, 2)
	assert.Equal(t, int64(1048576), info.Formats[0].Filesize)
	assert.Equal(t, int64(2048), info.Formats[1].Filesize)
	assert.Equal(t, "medium", info.Formats[1].Note)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"-J", "--no-playlist", "--no-warnings", "--cookies", "/creds/main.txt", "--", "https://example.com/watch?v=abc123"}, runner.calls[0])
}

func TestClient_ProbeRejectsEmptySource(t *testing.T) {
	runner := &fakeRunner{probe: probeJSON}
	c := newTestClient(runner)

	_, err := c.Probe(context.Background(), "  ", "")
	require.Error(t, err)
	assert.Empty(t, runner.calls)
}

func TestClient_ProbeBadJSON(t *testing.T) {
	c := newTestClient(&fakeRunner{probe: "not json"})

	_, err := c.Probe(context.Background(), "https://example.com/x", "")
	kind, _ := domain.ClassifyError(err)
	assert.Equal(t, domain.ErrorKindUnknown, kind)
}

func TestClient_Formats(t *testing.T) {
	c := newTestClient(&fakeRunner{probe: `{"id": "x", "title": "t"}`})

	formats, err := c.Formats(context.Background(), "https://example.com/x", "")
	require.NoError(t, err)
	assert.NotNil(t, formats)
	assert.Empty(t, formats)
}

func TestClient_Fetch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	runner := &fakeRunner{probe: probeJSON, download: writeFromTemplate}
	c := newTestClient(runner)

	res, err := c.Fetch(context.Background(), domain.FetchRequest{
		JobID:           "3f2a9c1e-7b44-4c1a-9d0e-2a7f5c3b8e11",
		SourceReference: "https://example.com/watch?v=abc123",
		OutputDirectory: dir,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Demo_ 100% real_clip-3f2a9c1e.mp4"), res.FilePath)
	assert.Equal(t, "Demo_ 100% real_clip-3f2a9c1e.mp4", res.FileName)
	assert.Equal(t, int64(10), res.SizeBytes)
	assert.Equal(t, "18", res.FormatID)
	assert.Equal(t, "mp4", res.Ext)
	assert.Equal(t, "someone", res.Uploader)
	assert.FileExists(t, res.FilePath)

	require.Len(t, runner.calls, 2)
	download := runner.calls[1]
	assert.Equal(t, domain.DefaultFormatSelector, download[slices.Index(download, "-f")+1])
	assert.Contains(t, download[slices.Index(download, "-o")+1], "100%% real")
	assert.Equal(t, "https://example.com/watch?v=abc123", download[len(download)-1])
	assert.Equal(t, "--", download[len(download)-2])
}

func TestClient_FetchWithoutReportedFile(t *testing.T) {
	runner := &fakeRunner{probe: probeJSON, download: func([]string) (*Output, error) {
		return &Output{Stdout: []byte("\n")}, nil
	}}
	c := newTestClient(runner)

	_, err := c.Fetch(context.Background(), domain.FetchRequest{
		JobID:           "id",
		SourceReference: "https://example.com/x",
		OutputDirectory: t.TempDir(),
	})
	require.Error(t, err)
}

func TestClient_FetchRejectsFileOutsideOutputDirectory(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "precious.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))
	runner := &fakeRunner{probe: probeJSON, download: func([]string) (*Output, error) {
		return &Output{Stdout: []byte(outside + "\n")}, nil
	}}
	c := newTestClient(runner)

	_, err := c.Fetch(context.Background(), domain.FetchRequest{
		JobID:           "id",
		SourceReference: "https://example.com/x",
		OutputDirectory: t.TempDir(),
	})
	kind, _ := domain.ClassifyError(err)
	assert.Equal(t, domain.ErrorKindFilesystem, kind)
	assert.FileExists(t, outside)
}

func TestClient_FetchUnknownCredential(t *testing.T) {
	c := newTestClient(&fakeRunner{probe: probeJSON})

	_, err := c.Fetch(context.Background(), domain.FetchRequest{
		JobID:               "id",
		SourceReference:     "https://example.com/x",
		OutputDirectory:     t.TempDir(),
		CredentialReference: "gone",
	})
	kind, _ := domain.ClassifyError(err)
	assert.Equal(t, domain.ErrorKindAuthRequired, kind)
}

func TestClient_FailureIsClassified(t *testing.T) {
	runner := &fakeRunner{
		fail:   true,
		stderr: "[youtube] abc: Downloading webpage\nERROR: [youtube] abc: Sign in to confirm your age. Use --cookies-from-browser\n",
	}
	c := newTestClient(runner)

	_, err := c.Probe(context.Background(), "https://example.com/x", "")
	kind, msg := domain.ClassifyError(err)
	assert.Equal(t, domain.ErrorKindAuthRequired, kind)
	assert.Equal(t, "[youtube] abc: Sign in to confirm your age. Use --cookies-from-browser", msg)
}

func TestClient_FailureIgnoresWarnings(t *testing.T) {
	runner := &fakeRunner{
		fail: true,
		stderr: "WARNING: unable to write cache: [Errno 13] Permission denied: '/root/.cache/yt-dlp'\n" +
			"ERROR: [generic] Unable to download webpage: Connection refused\n",
	}
	c := newTestClient(runner)

	_, err := c.Probe(context.Background(), "https://example.com/x", "")
	kind, msg := domain.ClassifyError(err)
	assert.Equal(t, domain.ErrorKindNetwork, kind)
	assert.Equal(t, "[generic] Unable to download webpage: Connection refused", msg)
}

type errRunner struct{ err error }

func (e errRunner) Run(context.Context, string, ...string) (*Output, error) { return nil, e.err }

func TestClient_MissingBinary(t *testing.T) {
	c := newTestClient(errRunner{err: fmt.Errorf("start yt-dlp: %w", exec.ErrNotFound)})

	_, err := c.Probe(context.Background(), "https://example.com/x", "")
	kind, _ := domain.ClassifyError(err)
	assert.Equal(t, domain.ErrorKindInternal, kind)
}

func TestClient_CanceledContext(t *testing.T) {
	c := newTestClient(errRunner{err: errors.New("signal: killed")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Probe(ctx, "https://example.com/x", "")
	kind, _ := domain.ClassifyError(err)
	assert.Equal(t, domain.ErrorKindInterrupted, kind)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		stderr   string
		expected domain.ErrorKind
	}{
		{"ERROR: [youtube] x: Private video. Sign in if you've been granted access", domain.ErrorKindAuthRequired},
		{"ERROR: unable to download video data: HTTP Error 403: Forbidden", domain.ErrorKindAuthRequired},
		{"ERROR: Unsupported URL: https://example.com/", domain.ErrorKindUnsupported},
		{"ERROR: [generic] Unable to download webpage: <urlopen error [Errno -3] Temporary failure in name resolution>", domain.ErrorKindNetwork},
		{"ERROR: Unable to download webpage: HTTP Error 503: Service Unavailable", domain.ErrorKindNetwork},
		{"ERROR: The read operation timed out", domain.ErrorKindNetwork},
		{"ERROR: unable to open for writing: [Errno 28] No space left on device", domain.ErrorKindFilesystem},
		{"ERROR: unable to open for writing: [Errno 13] Permission denied: '/out/x.mp4'", domain.ErrorKindFilesystem},
		{"ERROR: something odd happened", domain.ErrorKindUnknown},
		{"WARNING: unable to write cache: [Errno 13] Permission denied: '/root/.cache/yt-dlp'\nERROR: [generic] Unable to download webpage: Connection refused", domain.ErrorKindNetwork},
		{"WARNING: [youtube] login required for higher formats\nERROR: Unable to download webpage: HTTP Error 503: Service Unavailable", domain.ErrorKindNetwork},
		{"WARNING: cookies are stale\nERROR: Unsupported URL: https://example.com/", domain.ErrorKindUnsupported},
		{"WARNING: some odd warning\nERROR: something odd happened", domain.ErrorKindUnknown},
		{"[download] unable to open for writing: No space left on device", domain.ErrorKindFilesystem},
		{"", domain.ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.expected)+"/"+tt.stderr, func(t *testing.T) {
			assert.Equal(t, tt.expected, classify(tt.stderr))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", errorMessage("[info] a\nERROR: boom\n[debug] trailing\n"))
	assert.Equal(t, "last line", errorMessage("first\nlast line\n"))
	assert.Equal(t, "", errorMessage("\n\n"))
}

func TestAppendLimited(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 2000; i++ {
		appendLimited(&b, fmt.Sprintf("line %04d", i))
	}

	assert.LessOrEqual(t, b.Len(), maxStderrKeep)
	assert.True(t, strings.HasSuffix(b.String(), "line 1999\n"))
	assert.True(t, strings.HasPrefix(b.String(), "line "))
}
