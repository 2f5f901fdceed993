// SPDX-License-Identifier: GPL-2.0-or-later

package timeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dashview/pkg/log"
	"dashview/pkg/storage"

	"github.com/stretchr/testify/require"
)

type mapStore struct {
	files map[string][]byte
}

func (s *mapStore) List() ([]storage.FileEntry, error) {
	var entries []storage.FileEntry
	for path, data := range s.files {
		entries = append(entries, storage.FileEntry{
			Name:         filepath.Base(path),
			RelativePath: path,
			Size:         int64(len(data)),
		})
	}
	return entries, nil
}

func (s *mapStore) ReadFile(relativePath string) ([]byte, error) {
	data, exist := s.files[relativePath]
	if !exist {
		return nil, errors.New("no such file")
	}
	return data, nil
}

func (s *mapStore) AbsPath(relativePath string) string {
	return "/footage/" + relativePath
}

func newTestProber(
	t *testing.T,
	probe ProbeFunc,
	cache *ProbeCache,
) *Prober {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := log.NewMockLogger()
	logger.Start(ctx)

	return NewProber(probe, cache, &mapStore{}, time.Second, logger)
}

func newTestCache(t *testing.T) *ProbeCache {
	t.Helper()

	cache, err := OpenProbeCache(filepath.Join(t.TempDir(), "probe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	return cache
}

func TestProbeCollection(t *testing.T) {
	t.Run("corrects", func(t *testing.T) {
		durations := map[string]float64{
			"/footage/2024-05-04_10-00-00-front.mp4": 59.97,
			"/footage/2024-05-04_10-01-00-front.mp4": 58.2,
			"/footage/2024-05-04_10-02-00-front.mp4": 60.03,
		}
		probe := func(_ context.Context, path string) (float64, error) {
			seconds, exist := durations[path]
			if !exist {
				return 0, errors.New("unknown file")
			}
			return seconds, nil
		}

		collection := NewCollection(newTestRun(t, 3))
		newTestProber(t, probe, nil).ProbeCollection(context.Background(), collection)

		require.InDelta(t, 59.97, collection.SegmentDuration(0), 0.0001)
		require.InDelta(t, 58.2, collection.SegmentDuration(1), 0.0001)
		require.InDelta(t, 60.03, collection.SegmentDuration(2), 0.0001)
		requireStartsInvariants(t, collection)
	})
	t.Run("failureKeepsEstimate", func(t *testing.T) {
		probe := func(_ context.Context, path string) (float64, error) {
			if path == "/footage/2024-05-04_10-01-00-front.mp4" {
				return 0, errors.New("corrupt file")
			}
			return 55, nil
		}

		collection := NewCollection(newTestRun(t, 3))
		newTestProber(t, probe, nil).ProbeCollection(context.Background(), collection)

		require.InDelta(t, 55, collection.SegmentDuration(0), 0.0001)
		require.InDelta(t, DefaultSegmentSeconds, collection.SegmentDuration(1), 0.0001)
		require.InDelta(t, 55, collection.SegmentDuration(2), 0.0001)
	})
	t.Run("canceled", func(t *testing.T) {
		probe := func(_ context.Context, _ string) (float64, error) {
			t.Fatal("probe should not run")
			return 0, nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		collection := NewCollection(newTestRun(t, 3))
		newTestProber(t, probe, nil).ProbeCollection(ctx, collection)

		require.Equal(t, 180.0, collection.TotalDuration())
	})
}

func TestProbeCollectionCache(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		cache := newTestCache(t)

		collection := NewCollection(newTestRun(t, 1))
		file := collection.Group(0).Files["front"]
		require.NoError(t, cache.Set(cache.Key(file.RelativePath, file.Size), 42.5))

		probe := func(_ context.Context, _ string) (float64, error) {
			t.Fatal("probe should not run on a cache hit")
			return 0, nil
		}
		newTestProber(t, probe, cache).ProbeCollection(context.Background(), collection)

		require.InDelta(t, 42.5, collection.SegmentDuration(0), 0.0001)
	})
	t.Run("populates", func(t *testing.T) {
		cache := newTestCache(t)

		probe := func(_ context.Context, _ string) (float64, error) {
			return 58.2, nil
		}

		collection := NewCollection(newTestRun(t, 1))
		newTestProber(t, probe, cache).ProbeCollection(context.Background(), collection)

		file := collection.Group(0).Files["front"]
		seconds, exist := cache.Get(cache.Key(file.RelativePath, file.Size))
		require.True(t, exist)
		require.InDelta(t, 58.2, seconds, 0.0001)
	})
}

func TestProbeCache(t *testing.T) {
	cache := newTestCache(t)

	_, exist := cache.Get("missing")
	require.False(t, exist)

	require.NoError(t, cache.Set("a.mp4|100", 59.97))
	seconds, exist := cache.Get("a.mp4|100")
	require.True(t, exist)
	require.InDelta(t, 59.97, seconds, 0.0001)

	// A re-encoded file with the same name keys separately.
	require.Equal(t, "a.mp4|100", cache.Key("a.mp4", 100))
	require.NotEqual(t, cache.Key("a.mp4", 100), cache.Key("a.mp4", 101))
}
