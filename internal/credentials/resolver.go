// Package credentials resolves credential references into backend arguments
// and manages named cookie bundles on disk.
package credentials

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cuongbtq/fetch-service/internal/domain"
)

const (
	browserPrefix = "browser:"
	bundleExt     = ".txt"
	maxBundleSize = 4 << 20
)

// netscapeHeaders are the first-line markers written by browsers and cookie exporters
var netscapeHeaders = []string{"# Netscape HTTP Cookie File", "# HTTP Cookie File"}

var bundleName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

var supportedBrowsers = map[string]bool{
	"brave":    true,
	"chrome":   true,
	"chromium": true,
	"edge":     true,
	"firefox":  true,
	"opera":    true,
	"safari":   true,
	"vivaldi":  true,
	"whale":    true,
}

// Resolver resolves references against a directory of cookie bundles
type Resolver struct {
	Dir string
}

// NewResolver creates a resolver for dir
func NewResolver(dir string) *Resolver {
	return &Resolver{Dir: dir}
}

// Validate reports whether ref can be resolved. The empty reference is valid.
func (r *Resolver) Validate(ref string) error {
	_, err := r.Args(ref)
	return err
}

// Args returns the backend arguments for ref
func (r *Resolver) Args(ref string) ([]string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, nil

	case strings.HasPrefix(ref, browserPrefix):
		spec := strings.TrimPrefix(ref, browserPrefix)
		browser, _, _ := strings.Cut(spec, ":")
		if !supportedBrowsers[strings.ToLower(browser)] {
			return nil, fmt.Errorf("%w: unsupported browser %q", domain.ErrInvalidRequest, browser)
		}
		return []string{"--cookies-from-browser", spec}, nil

	case filepath.IsAbs(ref):
		info, err := os.Stat(ref)
		if err != nil || info.IsDir() {
			return nil, fmt.Errorf("%w: credential file %q does not exist", domain.ErrInvalidRequest, ref)
		}
		return []string{"--cookies", ref}, nil

	default:
		path, err := r.bundlePath(ref)
		if err != nil {
			return nil, err
		}
		return []string{"--cookies", path}, nil
	}
}

// List returns the names of stored bundles
func (r *Resolver) List() ([]string, error) {
	if r.Dir == "" {
		return []string{}, nil
	}
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read credentials directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), bundleExt)
		if bundleName.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Save stores a Netscape cookie file under name, replacing any previous bundle
func (r *Resolver) Save(name string, src io.Reader) error {
	name = strings.TrimSuffix(name, bundleExt)
	if !bundleName.MatchString(name) {
		return fmt.Errorf("%w: invalid credential name %q", domain.ErrInvalidRequest, name)
	}
	if r.Dir == "" {
		return fmt.Errorf("%w: credentials directory is not configured", domain.ErrInvalidRequest)
	}

	data, err := io.ReadAll(io.LimitReader(src, maxBundleSize+1))
	if err != nil {
		return fmt.Errorf("failed to read credential: %w", err)
	}
	if len(data) > maxBundleSize {
		return fmt.Errorf("%w: credential larger than %d bytes", domain.ErrInvalidRequest, maxBundleSize)
	}
	if !hasNetscapeHeader(data) {
		return fmt.Errorf("%w: not a Netscape cookie file", domain.ErrInvalidRequest)
	}

	if err := os.MkdirAll(r.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(r.Dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credential: %w", err)
	}

	// a bare <name> would shadow <name>.txt on lookup
	_ = os.Remove(filepath.Join(r.Dir, name))

	if err := os.Rename(tmpName, filepath.Join(r.Dir, name+bundleExt)); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

func (r *Resolver) bundlePath(name string) (string, error) {
	if !bundleName.MatchString(name) {
		return "", fmt.Errorf("%w: invalid credential reference %q", domain.ErrInvalidRequest, name)
	}
	if r.Dir == "" {
		return "", fmt.Errorf("%w: credential %q not found", domain.ErrInvalidRequest, name)
	}

	for _, candidate := range []string{name, name + bundleExt} {
		path := filepath.Join(r.Dir, candidate)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: credential %q not found", domain.ErrInvalidRequest, name)
}

func hasNetscapeHeader(data []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		for _, h := range netscapeHeaders {
			if strings.HasPrefix(line, h) {
				return true
			}
		}
		return false
	}
	return false
}
