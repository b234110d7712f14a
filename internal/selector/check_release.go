//go:build !nadcdebug

package selector

// checkID reports whether id addresses a bit. Release builds treat an
// out-of-range id as unset.
func checkID(id uint) bool { return id <= MaxID }
