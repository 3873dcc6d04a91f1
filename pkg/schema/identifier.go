package schema

import (
	"fmt"
	"hash/fnv"
)

// ShortenIdentifier keeps name within limit bytes. Longer names are cut and
// suffixed with a hash of the full name so distinct names stay distinct.
func ShortenIdentifier(name string, limit int) string {
	if limit <= 0 || len(name) <= limit {
		return name
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	return name[:limit-len(suffix)] + suffix
}
