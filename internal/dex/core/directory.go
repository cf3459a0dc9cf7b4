package core

import "strings"

// DirectoryEntry is one configured venue keyed by its directory name,
// e.g. "uniswap_v3".
type DirectoryEntry struct {
	Name string
	Desc RouterDescriptor
}

// Directory is the startup-loaded venue set. A slice keeps config order,
// which makes tie-breaking deterministic.
type Directory []DirectoryEntry

// Resolve maps a feed-supplied venue id to a router descriptor. An entry
// matches when the id equals its full key or the key's first
// underscore/hyphen-delimited segment, so "uniswap" matches both
// "uniswap_v2" and "uniswap_v3". Among multiple matches the highest
// version wins; ties go to the first entry seen. A false return means
// the venue is not tradeable, not an error.
func (d Directory) Resolve(venueID string) (RouterDescriptor, bool) {
	id := strings.ToLower(strings.TrimSpace(venueID))
	if id == "" {
		return RouterDescriptor{}, false
	}

	var (
		best  RouterDescriptor
		found bool
	)
	for _, e := range d {
		key := strings.ToLower(e.Name)
		if key != id && firstSegment(key) != id {
			continue
		}
		if !found || e.Desc.Version > best.Version {
			best = e.Desc
			found = true
		}
	}
	return best, found
}

func firstSegment(key string) string {
	if i := strings.IndexAny(key, "_-"); i >= 0 {
		return key[:i]
	}
	return key
}
