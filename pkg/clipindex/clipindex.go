// SPDX-License-Identifier: GPL-2.0-or-later

// Package clipindex turns a flat file listing into clip groups.
package clipindex

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"dashview/pkg/storage"
)

// Camera identifies one camera position.
type Camera string

// Camera positions.
const (
	CameraFront         Camera = "front"
	CameraBack          Camera = "back"
	CameraLeftRepeater  Camera = "left_repeater"
	CameraRightRepeater Camera = "right_repeater"
	CameraLeftPillar    Camera = "left_pillar"
	CameraRightPillar   Camera = "right_pillar"
)

// Cameras is the closed set of valid camera positions.
var Cameras = []Camera{
	CameraFront,
	CameraBack,
	CameraLeftRepeater,
	CameraRightRepeater,
	CameraLeftPillar,
	CameraRightPillar,
}

// ParseCamera returns the camera matching name.
func ParseCamera(name string) (Camera, bool) {
	for _, cam := range Cameras {
		if string(cam) == name {
			return cam, true
		}
	}
	return "", false
}

// Tag is the recording category.
type Tag string

// Recording categories.
const (
	TagRecent Tag = "recent"
	TagSaved  Tag = "saved"
	TagSentry Tag = "sentry"
)

// Directory names used by the recorder for each category.
var tagDirs = map[string]Tag{
	"RecentClips": TagRecent,
	"SavedClips":  TagSaved,
	"SentryClips": TagSentry,
}

// Group is one recording instant across cameras.
// Immutable after the build except for EventMeta,
// which is attached asynchronously.
type Group struct {
	ID           string
	Tag          Tag
	EventID      string // Only set for event-triggered categories.
	TimestampKey string // Local wall-clock minute, "2006-01-02_15-04-05".
	Time         time.Time

	Files map[Camera]storage.FileEntry

	EventMeta *EventMeta
}

// Cameras returns the group's cameras in canonical order.
func (g *Group) Cameras() []Camera {
	var cams []Camera
	for _, cam := range Cameras {
		if _, exist := g.Files[cam]; exist {
			cams = append(cams, cam)
		}
	}
	return cams
}

// EventMeta is the sidecar json saved next to event-triggered recordings.
type EventMeta struct {
	Timestamp string `json:"timestamp"`
	City      string `json:"city"`
	EstLat    string `json:"est_lat"`
	EstLon    string `json:"est_lon"`
	Reason    string `json:"reason"`
	Camera    string `json:"camera"`
}

// ParseEventMeta parses an event sidecar file.
func ParseEventMeta(raw []byte) (*EventMeta, error) {
	var meta EventMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Index is the output of a build.
type Index struct {
	// Groups sorted by tag, event and timestamp.
	Groups []*Group

	// Non-video assets belonging to an event, keyed by tag+eventID.
	EventAssetsByKey map[string][]storage.FileEntry
}

const timestampLayout = "2006-01-02_15-04-05"

// YYYY-MM-DD_HH-MM-SS-<camera>.<ext>
var fileNameRegex = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})-([a-z_]+)\.([A-Za-z0-9]+)$`)

// YYYY-MM-DD_HH-MM-SS event directory.
var eventDirRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}$`)

// ParseFileName parses a clip file name into its timestamp key and camera.
func ParseFileName(name string) (string, Camera, bool) {
	match := fileNameRegex.FindStringSubmatch(name)
	if match == nil {
		return "", "", false
	}
	cam, ok := ParseCamera(match[2])
	if !ok {
		return "", "", false
	}
	return match[1], cam, true
}

// Group build results are delivered in chunks so large listings
// don't occupy the caller for more than a bounded slice at a time.
const buildChunkSize = 1024

// ProgressFunc reports build progress.
type ProgressFunc func(done int, total int)

// Build groups a flat file listing into clip groups.
// Files with unrecognized names are skipped. Duplicate files for the
// same camera and key overwrite silently, last write wins.
func Build(ctx context.Context, entries []storage.FileEntry, progress ProgressFunc) (*Index, error) {
	groupsByKey := map[string]*Group{}
	eventAssets := map[string][]storage.FileEntry{}

	total := len(entries)
	for i := 0; i < total; i += buildChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := i + buildChunkSize
		if end > total {
			end = total
		}
		for _, entry := range entries[i:end] {
			indexEntry(entry, groupsByKey, eventAssets)
		}

		if progress != nil {
			progress(end, total)
		}
	}

	groups := make([]*Group, 0, len(groupsByKey))
	for _, group := range groupsByKey {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].ID < groups[j].ID
	})

	return &Index{
		Groups:           groups,
		EventAssetsByKey: eventAssets,
	}, nil
}

func indexEntry(
	entry storage.FileEntry,
	groupsByKey map[string]*Group,
	eventAssets map[string][]storage.FileEntry,
) {
	tag, eventID := classifyPath(entry.RelativePath)

	key, cam, ok := ParseFileName(entry.Name)
	if !ok {
		// Sidecars like "event.json" and thumbnails belong
		// to the surrounding event, not to a single group.
		if eventID != "" {
			assetKey := eventKey(tag, eventID)
			eventAssets[assetKey] = append(eventAssets[assetKey], entry)
		}
		return
	}

	timestamp, err := time.ParseInLocation(timestampLayout, key, time.Local)
	if err != nil {
		return
	}

	groupKey := string(tag) + "|" + eventID + "|" + key
	group, exist := groupsByKey[groupKey]
	if !exist {
		group = &Group{
			ID:           groupKey,
			Tag:          tag,
			EventID:      eventID,
			TimestampKey: key,
			Time:         timestamp,
			Files:        map[Camera]storage.FileEntry{},
		}
		groupsByKey[groupKey] = group
	}

	// Last write wins for duplicate camera files.
	group.Files[cam] = entry
}

// classifyPath assigns a recording category from the path segments and,
// for event-triggered categories, an event id from the parent directory.
func classifyPath(relativePath string) (Tag, string) {
	tag := TagRecent
	eventID := ""
	for _, segment := range strings.Split(relativePath, "/") {
		if t, ok := tagDirs[segment]; ok {
			tag = t
			continue
		}
		if tag != TagRecent && eventDirRegex.MatchString(segment) {
			eventID = segment
		}
	}
	if tag == TagRecent {
		return tag, ""
	}
	return tag, eventID
}

func eventKey(tag Tag, eventID string) string {
	return string(tag) + "|" + eventID
}

// EventAssets returns the non-video assets for a group's event.
func (index *Index) EventAssets(group *Group) []storage.FileEntry {
	if group.EventID == "" {
		return nil
	}
	return index.EventAssetsByKey[eventKey(group.Tag, group.EventID)]
}

// Run is an ordered sequence of groups forming one virtual timeline.
type Run struct {
	Date    string // YYYY-MM-DD.
	Tag     Tag
	EventID string
	Groups  []*Group
}

// Runs splits groups into per-day, per-category ordered runs.
// Groups within a run are sorted ascending by timestamp key.
func Runs(groups []*Group) []*Run {
	runsByKey := map[string]*Run{}
	var order []string

	for _, group := range groups {
		date := group.TimestampKey[:10]
		key := date + "|" + string(group.Tag) + "|" + group.EventID
		run, exist := runsByKey[key]
		if !exist {
			run = &Run{
				Date:    date,
				Tag:     group.Tag,
				EventID: group.EventID,
			}
			runsByKey[key] = run
			order = append(order, key)
		}
		run.Groups = append(run.Groups, group)
	}

	sort.Strings(order)
	runs := make([]*Run, 0, len(order))
	for _, key := range order {
		run := runsByKey[key]
		sort.Slice(run.Groups, func(i, j int) bool {
			return run.Groups[i].TimestampKey < run.Groups[j].TimestampKey
		})
		runs = append(runs, run)
	}
	return runs
}

// Cameras returns every camera present in at least one group of the run.
func (r *Run) Cameras() []Camera {
	present := map[Camera]bool{}
	for _, group := range r.Groups {
		for cam := range group.Files {
			present[cam] = true
		}
	}

	var cams []Camera
	for _, cam := range Cameras {
		if present[cam] {
			cams = append(cams, cam)
		}
	}
	return cams
}
