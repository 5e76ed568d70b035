package orchestrator

import (
	"regexp"
	"strings"
)

// maxCollectionNameLen bounds a collection name.
const maxCollectionNameLen = 64

var (
	invalidCollectionChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
	repeatedUnderscores    = regexp.MustCompile(`_+`)
)

// collectionName derives a stable collection name from a canonical folder
// path. The same path always maps to the same name, so a folder re-watched
// after a restart lands in its existing collection.
func collectionName(prefix, canonicalPath string) string {
	name := invalidCollectionChars.ReplaceAllString(canonicalPath, "_")
	name = repeatedUnderscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_.-")

	name = prefix + "_" + name
	if len(name) > maxCollectionNameLen {
		name = name[:maxCollectionNameLen]
		name = strings.TrimRight(name, "_.-")
	}
	return name
}
