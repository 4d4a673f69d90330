// Package meta holds the per-key metadata shared by endpoints and caches.
package meta

import (
	"maps"
	"slices"
)

// Metadata describes one object. LastModified is only set for objects on a
// local filesystem, in fractional seconds since the epoch.
type Metadata struct {
	Size         uint64   `json:"size" db:"size"`
	LastModified *float64 `json:"last_modified,omitempty" db:"last_modified"`
	ETag         string   `json:"etag" db:"etag"`
}

// Unchanged reports whether m was produced from a file with the given size
// and modification time.
func (m Metadata) Unchanged(size uint64, modTime float64) bool {
	return m.ETag != "" && m.Size == size && m.LastModified != nil && *m.LastModified == modTime
}

// KeyMap maps keys to their metadata.
type KeyMap map[string]Metadata

// Fingerprints projects the map to key -> etag.
func (k KeyMap) Fingerprints() map[string]string {
	out := make(map[string]string, len(k))
	for key, m := range k {
		out[key] = m.ETag
	}
	return out
}

// Totals returns the number of keys and the sum of their sizes.
func (k KeyMap) Totals() (files, bytes uint64) {
	for _, m := range k {
		files++
		bytes += m.Size
	}
	return files, bytes
}

// Keys returns the keys in lexicographic order.
func (k KeyMap) Keys() []string {
	return slices.Sorted(maps.Keys(k))
}

func (k KeyMap) Clone() KeyMap {
	return maps.Clone(k)
}

// Time converts a modification time in nanoseconds to the float form kept
// in LastModified.
func Time(unixNano int64) *float64 {
	t := float64(unixNano) / 1e9
	return &t
}
