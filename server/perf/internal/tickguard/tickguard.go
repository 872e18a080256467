// Package tickguard converts the use-before-initialisation panics raised by
// the performance components into a false return, so aggregate views like the
// coordinator's status probe can consult components that were never
// constructed. Any other panic is rethrown.
package tickguard

import "strings"

// UninitSuffix is the shared suffix of every component's
// use-before-initialisation panic message.
const UninitSuffix = " used before initialisation"

func Run(fn func()) (ok bool) {
	return run(fn)
}

func Value[T any](fn func() T) (value T, ok bool) {
	ok = run(func() {
		value = fn()
	})
	return
}

func run(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			if msg, str := r.(string); str && strings.HasSuffix(msg, UninitSuffix) {
				ok = false
				return
			}
			panic(r)
		}
	}()
	fn()
	return true
}
