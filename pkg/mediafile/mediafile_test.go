// SPDX-License-Identifier: GPL-2.0-or-later

package mediafile

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"dashview/pkg/playback"

	"github.com/stretchr/testify/require"
)

// writeTestFile writes a container with only a movie header, which is
// all the duration probe reads.
func writeTestFile(t *testing.T, durationSec float64) string {
	t.Helper()

	payload := make([]byte, 32)
	binary.BigEndian.PutUint32(payload[12:], 1000) // Timescale.
	binary.BigEndian.PutUint32(payload[16:], uint32(durationSec*1000))

	mvhd := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(mvhd, uint32(8+len(payload)))
	copy(mvhd[4:], "mvhd")
	mvhd = append(mvhd, payload...)

	moov := make([]byte, 8, 8+len(mvhd))
	binary.BigEndian.PutUint32(moov, uint32(8+len(mvhd)))
	copy(moov[4:], "moov")
	moov = append(moov, mvhd...)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, moov, 0o600))
	return path
}

func newTestHandle(t *testing.T) *Handle {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHandle(ctx)
}

// newStoppedHandle returns a handle whose clock has been stopped, so
// tests can drive advance() deterministically.
func newStoppedHandle(t *testing.T) *Handle {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	handle := NewHandle(ctx)
	cancel()
	return handle
}

func TestProbeDuration(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		path := writeTestFile(t, 58.2)

		duration, err := ProbeDuration(context.Background(), path)
		require.NoError(t, err)
		require.InDelta(t, 58.2, duration, 0.0001)
	})
	t.Run("missingFile", func(t *testing.T) {
		_, err := ProbeDuration(context.Background(), "/does/not/exist.mp4")
		require.Error(t, err)
	})
	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := ProbeDuration(ctx, writeTestFile(t, 60))
		require.ErrorIs(t, err, context.Canceled)
	})
	t.Run("notAContainer", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mp4")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

		_, err := ProbeDuration(context.Background(), path)
		require.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		handle := newTestHandle(t)

		handle.SetSource(writeTestFile(t, 60))
		require.NoError(t, handle.Load(context.Background()))

		duration, loaded := handle.Duration()
		require.True(t, loaded)
		require.InDelta(t, 60, duration, 0.0001)

		require.Equal(t, playback.MetadataReady, (<-handle.Events()).Kind)
		require.Equal(t, playback.FrameReady, (<-handle.Events()).Kind)
	})
	t.Run("failure", func(t *testing.T) {
		handle := newTestHandle(t)

		handle.SetSource("/does/not/exist.mp4")
		require.Error(t, handle.Load(context.Background()))

		_, loaded := handle.Duration()
		require.False(t, loaded)
		require.Equal(t, playback.Error, (<-handle.Events()).Kind)
	})
}

func TestAdvance(t *testing.T) {
	t.Run("playing", func(t *testing.T) {
		handle := newStoppedHandle(t)
		handle.SetSource(writeTestFile(t, 60))
		require.NoError(t, handle.Load(context.Background()))

		handle.Play()
		handle.SetRate(1.03)
		handle.advance(1)

		require.InDelta(t, 1.03, handle.Position(), 0.0001)
	})
	t.Run("pausedDoesNotMove", func(t *testing.T) {
		handle := newStoppedHandle(t)
		handle.SetSource(writeTestFile(t, 60))
		require.NoError(t, handle.Load(context.Background()))

		handle.advance(1)
		require.InDelta(t, 0, handle.Position(), 0.0001)
	})
	t.Run("ends", func(t *testing.T) {
		handle := newStoppedHandle(t)
		handle.SetSource(writeTestFile(t, 60))
		require.NoError(t, handle.Load(context.Background()))
		<-handle.Events() // MetadataReady.
		<-handle.Events() // FrameReady.

		handle.Play()
		handle.SetPosition(59.95)
		handle.advance(0.2)

		require.InDelta(t, 60, handle.Position(), 0.0001)
		require.False(t, handle.Playing())

		require.Equal(t, playback.PositionAdvanced, (<-handle.Events()).Kind)
		require.Equal(t, playback.Ended, (<-handle.Events()).Kind)
	})
}

func TestSetPosition(t *testing.T) {
	handle := newTestHandle(t)
	handle.SetSource(writeTestFile(t, 60))
	require.NoError(t, handle.Load(context.Background()))

	handle.SetPosition(-3)
	require.InDelta(t, 0, handle.Position(), 0.0001)

	handle.SetPosition(75)
	require.InDelta(t, 60, handle.Position(), 0.0001)

	handle.SetPosition(12.5)
	require.InDelta(t, 12.5, handle.Position(), 0.0001)
}
