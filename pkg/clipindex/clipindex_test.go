// SPDX-License-Identifier: GPL-2.0-or-later

package clipindex

import (
	"context"
	"path"
	"testing"

	"dashview/pkg/storage"

	"github.com/stretchr/testify/require"
)

func TestParseFileName(t *testing.T) {
	cases := map[string]struct {
		input       string
		expectedKey string
		expectedCam Camera
		expectedOK  bool
	}{
		"front":         {"2024-05-04_10-30-00-front.mp4", "2024-05-04_10-30-00", CameraFront, true},
		"leftRepeater":  {"2024-05-04_10-30-00-left_repeater.mp4", "2024-05-04_10-30-00", CameraLeftRepeater, true},
		"rightPillar":   {"2024-05-04_10-30-00-right_pillar.mp4", "2024-05-04_10-30-00", CameraRightPillar, true},
		"unknownCamera": {"2024-05-04_10-30-00-rear_window.mp4", "", "", false},
		"sidecar":       {"event.json", "", "", false},
		"thumbnail":     {"thumb.png", "", "", false},
		"badTimestamp":  {"2024-5-4_10-30-00-front.mp4", "", "", false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			key, cam, ok := ParseFileName(tc.input)
			require.Equal(t, tc.expectedOK, ok)
			require.Equal(t, tc.expectedKey, key)
			require.Equal(t, tc.expectedCam, cam)
		})
	}
}

func TestParseCamera(t *testing.T) {
	cam, ok := ParseCamera("back")
	require.True(t, ok)
	require.Equal(t, CameraBack, cam)

	_, ok = ParseCamera("rear")
	require.False(t, ok)
}

func entry(relativePath string, size int64) storage.FileEntry {
	return storage.FileEntry{
		Name:         path.Base(relativePath),
		RelativePath: relativePath,
		Size:         size,
	}
}

func TestBuild(t *testing.T) {
	t.Run("grouping", func(t *testing.T) {
		entries := []storage.FileEntry{
			entry("RecentClips/2024-05-04_10-00-00-front.mp4", 1),
			entry("RecentClips/2024-05-04_10-00-00-back.mp4", 2),
			entry("RecentClips/2024-05-04_10-01-00-front.mp4", 3),
			entry("SavedClips/2024-05-04_11-00-00/2024-05-04_10-59-00-front.mp4", 4),
			entry("SavedClips/2024-05-04_11-00-00/event.json", 5),
			entry("SavedClips/2024-05-04_11-00-00/thumb.png", 6),
			entry("SentryClips/2024-05-04_12-00-00/2024-05-04_11-59-00-front.mp4", 7),
			entry("RecentClips/notes.txt", 8),
		}

		index, err := Build(context.Background(), entries, nil)
		require.NoError(t, err)
		require.Equal(t, 4, len(index.Groups))

		recent := index.Groups[0]
		require.Equal(t, TagRecent, recent.Tag)
		require.Equal(t, "", recent.EventID)
		require.Equal(t, "2024-05-04_10-00-00", recent.TimestampKey)
		require.Equal(t, 2, len(recent.Files))
		require.Equal(t, int64(2), recent.Files[CameraBack].Size)

		saved := index.Groups[2]
		require.Equal(t, TagSaved, saved.Tag)
		require.Equal(t, "2024-05-04_11-00-00", saved.EventID)
		require.Equal(t, "2024-05-04_10-59-00", saved.TimestampKey)

		sentry := index.Groups[3]
		require.Equal(t, TagSentry, sentry.Tag)
		require.Equal(t, "2024-05-04_12-00-00", sentry.EventID)

		assets := index.EventAssets(saved)
		require.Equal(t, 2, len(assets))
		require.Nil(t, index.EventAssets(recent))
	})
	t.Run("lastWriteWins", func(t *testing.T) {
		entries := []storage.FileEntry{
			entry("RecentClips/a/2024-05-04_10-00-00-front.mp4", 1),
			entry("RecentClips/b/2024-05-04_10-00-00-front.mp4", 2),
		}

		index, err := Build(context.Background(), entries, nil)
		require.NoError(t, err)
		require.Equal(t, 1, len(index.Groups))

		file := index.Groups[0].Files[CameraFront]
		require.Equal(t, "RecentClips/b/2024-05-04_10-00-00-front.mp4", file.RelativePath)
	})
	t.Run("progress", func(t *testing.T) {
		entries := make([]storage.FileEntry, 3000)
		for i := range entries {
			entries[i] = entry("RecentClips/2024-05-04_10-00-00-front.mp4", 1)
		}

		var reports [][2]int
		progress := func(done, total int) {
			reports = append(reports, [2]int{done, total})
		}

		_, err := Build(context.Background(), entries, progress)
		require.NoError(t, err)
		require.Equal(t, [][2]int{{1024, 3000}, {2048, 3000}, {3000, 3000}}, reports)
	})
	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		entries := []storage.FileEntry{
			entry("RecentClips/2024-05-04_10-00-00-front.mp4", 1),
		}

		_, err := Build(ctx, entries, nil)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestClassifyPath(t *testing.T) {
	cases := map[string]struct {
		input           string
		expectedTag     Tag
		expectedEventID string
	}{
		"recent":     {"RecentClips/2024-05-04_10-00-00-front.mp4", TagRecent, ""},
		"bareRecent": {"2024-05-04_10-00-00-front.mp4", TagRecent, ""},
		"saved":      {"SavedClips/2024-05-04_11-00-00/x.mp4", TagSaved, "2024-05-04_11-00-00"},
		"sentry":     {"SentryClips/2024-05-04_12-00-00/x.mp4", TagSentry, "2024-05-04_12-00-00"},
		"noEventDir": {"SentryClips/x.mp4", TagSentry, ""},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tag, eventID := classifyPath(tc.input)
			require.Equal(t, tc.expectedTag, tag)
			require.Equal(t, tc.expectedEventID, eventID)
		})
	}
}

func TestParseEventMeta(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		raw := []byte(`{
			"timestamp": "2024-05-04T11:00:00",
			"city": "San Francisco",
			"est_lat": "37.7577",
			"est_lon": "-122.4788",
			"reason": "sentry_aware_object_detection",
			"camera": "5"
		}`)

		meta, err := ParseEventMeta(raw)
		require.NoError(t, err)
		require.Equal(t, "2024-05-04T11:00:00", meta.Timestamp)
		require.Equal(t, "San Francisco", meta.City)
		require.Equal(t, "sentry_aware_object_detection", meta.Reason)
	})
	t.Run("invalid", func(t *testing.T) {
		_, err := ParseEventMeta([]byte("{"))
		require.Error(t, err)
	})
}

func TestRuns(t *testing.T) {
	buildIndex := func(t *testing.T, paths ...string) []*Group {
		t.Helper()
		entries := make([]storage.FileEntry, 0, len(paths))
		for _, path := range paths {
			entries = append(entries, entry(path, 1))
		}
		index, err := Build(context.Background(), entries, nil)
		require.NoError(t, err)
		return index.Groups
	}

	groups := buildIndex(t,
		"RecentClips/2024-05-05_09-00-00-front.mp4",
		"RecentClips/2024-05-04_10-01-00-front.mp4",
		"RecentClips/2024-05-04_10-00-00-front.mp4",
		"SentryClips/2024-05-04_12-00-00/2024-05-04_11-59-00-front.mp4",
		"SentryClips/2024-05-04_12-00-00/2024-05-04_12-00-00-front.mp4",
	)

	runs := Runs(groups)
	require.Equal(t, 3, len(runs))

	require.Equal(t, "2024-05-04", runs[0].Date)
	require.Equal(t, TagRecent, runs[0].Tag)
	require.Equal(t, []string{
		"2024-05-04_10-00-00",
		"2024-05-04_10-01-00",
	}, timestampKeys(runs[0].Groups))

	require.Equal(t, TagSentry, runs[1].Tag)
	require.Equal(t, "2024-05-04_12-00-00", runs[1].EventID)
	require.Equal(t, []string{
		"2024-05-04_11-59-00",
		"2024-05-04_12-00-00",
	}, timestampKeys(runs[1].Groups))

	require.Equal(t, "2024-05-05", runs[2].Date)
}

func timestampKeys(groups []*Group) []string {
	keys := make([]string, 0, len(groups))
	for _, group := range groups {
		keys = append(keys, group.TimestampKey)
	}
	return keys
}

func TestRunCameras(t *testing.T) {
	entries := []storage.FileEntry{
		entry("RecentClips/2024-05-04_10-00-00-back.mp4", 1),
		entry("RecentClips/2024-05-04_10-01-00-front.mp4", 1),
		entry("RecentClips/2024-05-04_10-01-00-left_repeater.mp4", 1),
	}

	index, err := Build(context.Background(), entries, nil)
	require.NoError(t, err)

	runs := Runs(index.Groups)
	require.Equal(t, 1, len(runs))

	// Stable camera ordering regardless of input order.
	require.Equal(t,
		[]Camera{CameraFront, CameraBack, CameraLeftRepeater},
		runs[0].Cameras())
}

func TestGroupCameras(t *testing.T) {
	group := &Group{Files: map[Camera]storage.FileEntry{
		CameraLeftRepeater: {},
		CameraFront:        {},
	}}
	require.Equal(t,
		[]Camera{CameraFront, CameraLeftRepeater},
		group.Cameras())
}
