//go:build nadcdebug

package selector

import "fmt"

// checkID panics on an out-of-range id so callers are caught during development.
func checkID(id uint) bool {
	if id > MaxID {
		panic(fmt.Sprintf("selector: id %d out of range 0..%d", id, MaxID))
	}
	return true
}
