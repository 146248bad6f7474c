package journal

import (
	"context"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// Filter selects journal rows. Empty fields match everything.
type Filter struct {
	Source   string
	Category string
	Day      string
	Outcome  string
	// Limit caps the number of rows returned (0 = no limit).
	Limit int
}

// Row is one journal row as stored.
type Row map[string]any

// Query returns matching rows, newest snapshot first.
func (j *Journal) Query(ctx context.Context, f Filter) ([]Row, error) {
	snapshots, err := j.dataset.Snapshots(ctx)
	if err != nil {
		return nil, wrap("read", j.config.Dataset+"/snapshots", err)
	}

	var rows []Row
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, f) {
			continue
		}

		data, err := j.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("read", fmt.Sprintf("%s/snapshot/%s", j.config.Dataset, snap.ID), err)
		}

		// Manifest paths are a coarse pre-filter; row fields are authoritative.
		for _, item := range data {
			row, ok := item.(map[string]any)
			if !ok || !rowMatches(row, f) {
				continue
			}
			rows = append(rows, Row(row))
			if f.Limit > 0 && len(rows) >= f.Limit {
				return rows, nil
			}
		}
	}
	return rows, nil
}

func (f Filter) pairs() [][2]string {
	return [][2]string{
		{"source", f.Source},
		{"category", f.Category},
		{"day", f.Day},
		{"outcome", f.Outcome},
	}
}

// snapshotMatches reports whether any file in the snapshot lies under every
// requested partition value.
func snapshotMatches(snap *lode.DatasetSnapshot, f Filter) bool {
	for _, file := range snap.Manifest.Files {
		ok := true
		for _, kv := range f.pairs() {
			if kv[1] != "" && !hasPartition(file.Path, kv[0], kv[1]) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func rowMatches(row map[string]any, f Filter) bool {
	if row["record_kind"] != RecordKindBatchRecord {
		return false
	}
	for _, kv := range f.pairs() {
		if kv[1] == "" {
			continue
		}
		if s, _ := row[kv[0]].(string); s != kv[1] {
			return false
		}
	}
	return true
}

// hasPartition matches an exact key=value path segment, so source=1 does not
// match source=10.
func hasPartition(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
