// Package ytdlp is the extraction backend, driving the yt-dlp binary.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/fetch-service/internal/domain"
	"github.com/cuongbtq/fetch-service/internal/filename"
)

const (
	defaultBinary = "yt-dlp"

	// printed once the file reaches its final name
	afterMoveTemplate = "after_move:%(.{filepath,format_id,ext})j"
)

// CredentialResolver turns a credential reference into yt-dlp arguments
type CredentialResolver interface {
	Args(ref string) ([]string, error)
}

// Config holds backend configuration
type Config struct {
	Binary      string
	Credentials CredentialResolver
	Runner      Runner
	Logger      *slog.Logger
}

// Client runs probes and downloads through yt-dlp
type Client struct {
	binary string
	creds  CredentialResolver
	runner Runner
	logger *slog.Logger
}

// New creates a new yt-dlp client
func New(cfg Config) *Client {
	binary := cfg.Binary
	if binary == "" {
		binary = defaultBinary
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = &ExecRunner{Logger: logger}
	}
	return &Client{
		binary: binary,
		creds:  cfg.Credentials,
		runner: runner,
		logger: logger,
	}
}

type infoJSON struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Uploader    string       `json:"uploader"`
	Duration    float64      `json:"duration"`
	Ext         string       `json:"ext"`
	WebpageURL  string       `json:"webpage_url"`
	Thumbnail   string       `json:"thumbnail"`
	Description string       `json:"description"`
	Formats     []formatJSON `json:"formats"`
}

type formatJSON struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution"`
	FPS            float64 `json:"fps"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
	TBR            float64 `json:"tbr"`
	FormatNote     string  `json:"format_note"`
}

type movedJSON struct {
	FilePath string `json:"filepath"`
	FormatID string `json:"format_id"`
	Ext      string `json:"ext"`
}

// Probe returns metadata for source without downloading it
func (c *Client) Probe(ctx context.Context, source, credential string) (*domain.MediaInfo, error) {
	if strings.TrimSpace(source) == "" {
		return nil, domain.NewBackendError(domain.ErrorKindUnsupported, "source reference is required", nil)
	}
	cookieArgs, err := c.cookieArgs(credential)
	if err != nil {
		return nil, err
	}

	args := append([]string{"-J", "--no-playlist", "--no-warnings"}, cookieArgs...)
	args = append(args, "--", source)

	out, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}

	var info infoJSON
	if err := json.Unmarshal(bytes.TrimSpace(out.Stdout), &info); err != nil {
		return nil, domain.NewBackendError(domain.ErrorKindUnknown, "failed to parse yt-dlp metadata", err)
	}
	return info.toMediaInfo(), nil
}

// Formats lists the renditions available for source
func (c *Client) Formats(ctx context.Context, source, credential string) ([]domain.Format, error) {
	info, err := c.Probe(ctx, source, credential)
	if err != nil {
		return nil, err
	}
	if info.Formats == nil {
		return []domain.Format{}, nil
	}
	return info.Formats, nil
}

// Fetch downloads one source into req.OutputDirectory
func (c *Client) Fetch(ctx context.Context, req domain.FetchRequest) (*domain.Result, error) {
	if err := os.MkdirAll(req.OutputDirectory, 0o755); err != nil {
		return nil, domain.NewBackendError(domain.ErrorKindFilesystem,
			fmt.Sprintf("failed to create output directory: %v", err), err)
	}

	info, err := c.Probe(ctx, req.SourceReference, req.CredentialReference)
	if err != nil {
		return nil, err
	}

	selector := req.FormatSelector
	if selector == "" {
		selector = domain.DefaultFormatSelector
	}
	base := filename.Base(req.JobID, info.Title)
	tmpl := filename.EscapeTemplate(filepath.Join(req.OutputDirectory, base)) + ".%(ext)s"

	cookieArgs, err := c.cookieArgs(req.CredentialReference)
	if err != nil {
		return nil, err
	}
	args := []string{
		"--no-playlist",
		"--newline",
		"--no-simulate",
		"--no-progress",
		"-f", selector,
		"-o", tmpl,
		"--print", afterMoveTemplate,
	}
	args = append(args, cookieArgs...)
	args = append(args, "--", req.SourceReference)

	c.logger.Info("Starting download",
		slog.String("job_id", req.JobID),
		slog.String("source", req.SourceReference),
		slog.String("format", selector),
	)

	out, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}

	moved := parseMoved(out.Stdout)
	if moved.FilePath == "" {
		return nil, domain.NewBackendError(domain.ErrorKindUnknown, "yt-dlp did not report an output file", nil)
	}
	if !filepath.IsAbs(moved.FilePath) {
		moved.FilePath = filepath.Join(req.OutputDirectory, moved.FilePath)
	}
	if !filename.Within(req.OutputDirectory, moved.FilePath) {
		return nil, domain.NewBackendError(domain.ErrorKindFilesystem,
			fmt.Sprintf("yt-dlp reported a file outside the output directory: %s", moved.FilePath), nil)
	}
	stat, err := os.Stat(moved.FilePath)
	if err != nil {
		return nil, domain.NewBackendError(domain.ErrorKindFilesystem,
			fmt.Sprintf("downloaded file is missing: %v", err), err)
	}

	ext := moved.Ext
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(moved.FilePath), ".")
	}
	return &domain.Result{
		FilePath:        moved.FilePath,
		FileName:        filename.ForJob(req.JobID, info.Title, ext),
		Title:           info.Title,
		DurationSeconds: info.DurationSeconds,
		SizeBytes:       stat.Size(),
		FormatID:        moved.FormatID,
		Ext:             ext,
		Uploader:        info.Uploader,
		WebpageURL:      info.WebpageURL,
	}, nil
}

func (c *Client) cookieArgs(ref string) ([]string, error) {
	if ref == "" || c.creds == nil {
		return nil, nil
	}
	args, err := c.creds.Args(ref)
	if err != nil {
		return nil, domain.NewBackendError(domain.ErrorKindAuthRequired, err.Error(), err)
	}
	return args, nil
}

func (c *Client) run(ctx context.Context, args []string) (*Output, error) {
	out, err := c.runner.Run(ctx, c.binary, args...)
	if err == nil {
		return out, nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return nil, domain.NewBackendError(domain.ErrorKindInternal,
			fmt.Sprintf("%s binary not found", c.binary), err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, domain.NewBackendError(domain.ErrorKindInterrupted, "download interrupted", ctxErr)
	}

	stderr := ""
	if out != nil {
		stderr = out.Stderr
	}
	msg := errorMessage(stderr)
	if msg == "" {
		msg = err.Error()
	}
	return nil, domain.NewBackendError(classify(stderr), msg, err)
}

// parseMoved reads the last printed line; plain paths are accepted too
func parseMoved(stdout []byte) movedJSON {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var moved movedJSON
		if strings.HasPrefix(line, "{") && json.Unmarshal([]byte(line), &moved) == nil {
			return moved
		}
		return movedJSON{FilePath: line}
	}
	return movedJSON{}
}

func (i *infoJSON) toMediaInfo() *domain.MediaInfo {
	info := &domain.MediaInfo{
		ID:              i.ID,
		Title:           i.Title,
		Uploader:        i.Uploader,
		DurationSeconds: i.Duration,
		Ext:             i.Ext,
		WebpageURL:      i.WebpageURL,
		Thumbnail:       i.Thumbnail,
		Description:     i.Description,
	}
	for _, f := range i.Formats {
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		info.Formats = append(info.Formats, domain.Format{
			FormatID:   f.FormatID,
			Ext:        f.Ext,
			Resolution: f.Resolution,
			FPS:        f.FPS,
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
			Filesize:   int64(size),
			TBR:        f.TBR,
			Note:       f.FormatNote,
		})
	}
	return info
}
