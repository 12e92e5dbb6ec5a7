// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package assets

import (
	"context"
	"fmt"
	"image"
	"sync"

	xglog "github.com/ManuGH/pex/internal/log"
	"github.com/ManuGH/pex/internal/metrics"
	"github.com/disintegration/imaging"
)

// TextureSink receives decoded images on the consumer side, typically to
// upload them as GPU textures.
type TextureSink interface {
	Upload(key string, img *image.NRGBA) error
}

// Prepared is a decoded image waiting for upload.
type Prepared struct {
	Key   string
	Image *image.NRGBA
}

// Bridge decodes cached files off the consumer thread and hands a bounded
// number of them to the sink per tick.
type Bridge struct {
	m *Manager

	mu     sync.Mutex
	queue  []Prepared
	queued map[string]struct{}
}

// NewBridge returns a bridge reading from m.
func NewBridge(m *Manager) *Bridge {
	return &Bridge{m: m, queued: make(map[string]struct{})}
}

// Prepare decodes key's cached file and queues it for upload. A file that
// fails to decode is marked failed and never decoded again this session.
func (b *Bridge) Prepare(ctx context.Context, key string) error {
	if b.m.IsFailed(key) {
		return fmt.Errorf("%w: %s failed earlier", ErrDecode, key)
	}

	b.mu.Lock()
	_, dup := b.queued[key]
	b.mu.Unlock()
	if dup {
		return nil
	}

	e, ok, err := b.m.index.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || e.State != StateReady {
		return fmt.Errorf("%w: %s", ErrNotCached, key)
	}

	img, err := imaging.Open(e.Path)
	if err != nil {
		cause := fmt.Errorf("%w: %w", ErrDecode, err)
		metrics.IncAssetDecodeFailure()
		b.m.markFailed(ctx, key, cause)
		b.m.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "assets.decode_failed").
			Str(xglog.FieldKey, key).
			Str(xglog.FieldPath, e.Path).
			Msg("cached asset is not decodable")
		return cause
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.queued[key]; dup {
		return nil
	}
	b.queued[key] = struct{}{}
	b.queue = append(b.queue, Prepared{Key: key, Image: imaging.Clone(img)})
	return nil
}

// Drain hands at most budget prepared images to sink in preparation order
// and returns how many were delivered. A sink error stops the tick; the
// image that failed is dropped.
func (b *Bridge) Drain(sink TextureSink, budget int) (int, error) {
	b.mu.Lock()
	n := min(budget, len(b.queue))
	batch := make([]Prepared, n)
	copy(batch, b.queue[:n])
	b.queue = b.queue[n:]
	for _, p := range batch {
		delete(b.queued, p.Key)
	}
	b.mu.Unlock()

	for i, p := range batch {
		if err := sink.Upload(p.Key, p.Image); err != nil {
			b.requeue(batch[i+1:])
			return i, fmt.Errorf("upload %s: %w", p.Key, err)
		}
	}
	return n, nil
}

func (b *Bridge) requeue(rest []Prepared) {
	if len(rest) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range rest {
		b.queued[p.Key] = struct{}{}
	}
	b.queue = append(rest, b.queue...)
}

// Pending is the number of images waiting for upload.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
