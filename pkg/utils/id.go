package utils

import "github.com/google/uuid"

// PrefixedID returns a random v4 UUID tagged with kind, e.g. "sub-3f2a...".
func PrefixedID(kind string) string {
	return kind + "-" + uuid.NewString()
}
