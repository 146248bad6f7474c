package types

import (
	"regexp"
	"time"
)

// Record field names stamped by the scanner onto gateway metadata.
const (
	FieldSourceID = "source_id"
	FieldCategory = "category"
	FieldFilePath = "file_path"
	FieldFileTime = "file_time"
)

// Entry is one sub-package metadata object as returned by the gateway's
// zip_info call. Its fields are opaque to the agent.
type Entry map[string]any

// Record is an Entry stamped with the source and category it was found in.
// Records are submitted to the backend as flat JSON objects.
type Record map[string]any

// fileTimePattern matches a 14-digit timestamp after '_' or '-' in a filename,
// e.g. FDD-LTE_MRO_ZTE_OMC1_20250208000000.zip.
var fileTimePattern = regexp.MustCompile(`[_-](\d{14})`)

// FileTimeLayout is the backend's datetime format for file_time.
const FileTimeLayout = "2006-01-02 15:04:05"

// ExtractFileTime parses the first embedded yyyymmddHHMMSS timestamp in name.
// Returns false if none is present or it is not a valid time.
func ExtractFileTime(name string) (string, bool) {
	m := fileTimePattern.FindStringSubmatch(name)
	if len(m) < 2 {
		return "", false
	}
	t, err := time.Parse("20060102150405", m[1])
	if err != nil {
		return "", false
	}
	return t.Format(FileTimeLayout), true
}

// NewRecord copies entry and stamps source id, category, file path and,
// when the path carries one, the file timestamp. The entry is not modified.
func NewRecord(entry Entry, sourceID ID, category Category, filePath string) Record {
	r := make(Record, len(entry)+4)
	for k, v := range entry {
		r[k] = v
	}
	r[FieldSourceID] = string(sourceID)
	r[FieldCategory] = string(category)
	r[FieldFilePath] = filePath
	if ts, ok := ExtractFileTime(filePath); ok {
		r[FieldFileTime] = ts
	}
	return r
}

// Category returns the record's category stamp.
func (r Record) Category() string {
	s, _ := r[FieldCategory].(string)
	return s
}

// SourceID returns the record's source stamp.
func (r Record) SourceID() string {
	s, _ := r[FieldSourceID].(string)
	return s
}
