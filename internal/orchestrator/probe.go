package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/fetch-service/internal/domain"
)

// ProbeMetadata returns metadata for source without creating a job.
// Identical concurrent probes share one backend call.
func (o *Orchestrator) ProbeMetadata(ctx context.Context, source, credential string) (*domain.MediaInfo, error) {
	source, credential, err := o.probeInput(source, credential)
	if err != nil {
		return nil, err
	}

	v, err := o.collapse(ctx, "info\x00"+source+"\x00"+credential, func(ctx context.Context) (any, error) {
		return o.prober.Probe(ctx, source, credential)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.MediaInfo), nil
}

// ListFormats returns the renditions available for source
func (o *Orchestrator) ListFormats(ctx context.Context, source, credential string) ([]domain.Format, error) {
	source, credential, err := o.probeInput(source, credential)
	if err != nil {
		return nil, err
	}

	v, err := o.collapse(ctx, "formats\x00"+source+"\x00"+credential, func(ctx context.Context) (any, error) {
		return o.prober.Formats(ctx, source, credential)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Format), nil
}

func (o *Orchestrator) probeInput(source, credential string) (string, string, error) {
	if err := o.ready(); err != nil {
		return "", "", err
	}
	if o.prober == nil {
		return "", "", errors.New("no prober configured")
	}

	source = strings.TrimSpace(source)
	if source == "" {
		return "", "", fmt.Errorf("%w: source reference is required", domain.ErrInvalidRequest)
	}
	credential = strings.TrimSpace(credential)
	if credential != "" && o.creds != nil {
		if err := o.creds.Validate(credential); err != nil {
			return "", "", err
		}
	}
	return source, credential, nil
}

// collapse runs fn once per key across concurrent callers. The shared call is
// bounded by the probe timeout rather than by any single caller's context.
func (o *Orchestrator) collapse(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := o.probes.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.probeTimeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
