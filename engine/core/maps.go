package core

import "maps"

// CloneMap returns a shallow copy; nil stays nil.
func CloneMap[K comparable, V any](src map[K]V) map[K]V {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

// CopyMaps merges the given maps left to right into a new map.
func CopyMaps[K comparable, V any](sources ...map[K]V) map[K]V {
	size := 0
	for _, m := range sources {
		size += len(m)
	}
	out := make(map[K]V, size)
	for _, m := range sources {
		maps.Copy(out, m)
	}
	return out
}
