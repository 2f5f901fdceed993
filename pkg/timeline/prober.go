// SPDX-License-Identifier: GPL-2.0-or-later

package timeline

import (
	"context"
	"time"

	"dashview/pkg/clipindex"
	"dashview/pkg/log"
	"dashview/pkg/storage"
)

// ProbeFunc determines the true playable duration of a segment file.
type ProbeFunc func(ctx context.Context, path string) (float64, error)

// Prober replaces provisional segment durations with probed values.
type Prober struct {
	probe   ProbeFunc
	cache   *ProbeCache // Optional.
	store   storage.FileStore
	timeout time.Duration
	logger  *log.Logger
}

// NewProber returns a prober. cache may be nil.
func NewProber(
	probe ProbeFunc,
	cache *ProbeCache,
	store storage.FileStore,
	timeout time.Duration,
	logger *log.Logger,
) *Prober {
	return &Prober{
		probe:   probe,
		cache:   cache,
		store:   store,
		timeout: timeout,
		logger:  logger,
	}
}

// ProbeCollection probes every segment of the collection in order and
// corrects its durations in place. A failed probe keeps the previous
// estimate for that segment and never blocks the timeline. Returns
// once every segment has been attempted or ctx is canceled.
func (p *Prober) ProbeCollection(ctx context.Context, collection *Collection) {
	for i := 0; i < collection.SegmentCount(); i++ {
		if ctx.Err() != nil {
			return
		}

		group := collection.Group(i)
		file, ok := probeFile(group)
		if !ok {
			continue
		}

		if p.cache != nil {
			key := p.cache.Key(file.RelativePath, file.Size)
			if seconds, exist := p.cache.Get(key); exist {
				collection.SetDuration(i, seconds)
				continue
			}
		}

		seconds, err := p.probeWithTimeout(ctx, p.store.AbsPath(file.RelativePath))
		if err != nil {
			p.logger.Debug().
				Src("prober").
				Msgf("probe failed, keeping estimate: %v: %v", file.RelativePath, err)
			continue
		}

		collection.SetDuration(i, seconds)

		if p.cache != nil {
			key := p.cache.Key(file.RelativePath, file.Size)
			if err := p.cache.Set(key, seconds); err != nil {
				p.logger.Warn().
					Src("prober").
					Msgf("could not cache duration: %v", err)
			}
		}
	}
}

func (p *Prober) probeWithTimeout(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.probe(ctx, path)
}

// probeFile picks the file to probe for a group, preferring the
// front camera.
func probeFile(group *clipindex.Group) (storage.FileEntry, bool) {
	if file, exist := group.Files[clipindex.CameraFront]; exist {
		return file, true
	}
	for _, cam := range clipindex.Cameras {
		if file, exist := group.Files[cam]; exist {
			return file, true
		}
	}
	return storage.FileEntry{}, false
}
