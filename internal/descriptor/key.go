package descriptor

import (
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"
)

// CacheKey returns a canonical digest of the identity-relevant fields of the
// descriptor. Two descriptors differing only in header order or option flags
// map to the same key; anything affecting the exchange itself (method, url,
// headers, body) changes it.
func (d *Descriptor) CacheKey() string {
	hasher := blake3.New()

	writeField := func(field string) {
		_, _ = hasher.WriteString(field)
		_, _ = hasher.Write([]byte{0})
	}

	writeField(d.Method)
	writeField(d.URL.String())

	names := make([]string, 0, len(d.Headers))
	for name := range d.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		writeField(name)
		for _, value := range d.Headers[name] {
			writeField(value)
		}
	}

	_, _ = hasher.Write(d.Body)

	return hex.EncodeToString(hasher.Sum(nil))
}
