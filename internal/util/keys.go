package util

import "strings"

const (
	// DefaultCachePrefix namespaces memoized values when no prefix is given.
	DefaultCachePrefix = "cache"
	tagSegment         = "tag"
	blockSegment       = "block"
	countSegment       = "count"
)

// CacheKey returns "<prefix>:<key>", or "cache:<key>" when prefix is empty.
func CacheKey(prefix, key string) string {
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	return join(prefix, key)
}

// TagKey returns "cache:tag:<tag>".
func TagKey(tag string) string {
	return join(DefaultCachePrefix, tagSegment, tag)
}

// BlockKey returns "<prefix>:block:<identifier>".
func BlockKey(prefix, identifier string) string {
	return join(prefix, blockSegment, identifier)
}

// CountKey returns "<prefix>:count:<identifier>".
func CountKey(prefix, identifier string) string {
	return join(prefix, countSegment, identifier)
}

func join(parts ...string) string {
	return strings.Join(parts, ":")
}
