// Package assert aborts startup on conditions the daemon cannot run without.
package assert

import "fmt"

// Assert panics with msg when condition is false.
func Assert(condition bool, msg string, other ...any) {
	if condition {
		return
	}
	if len(other) > 0 {
		panic(fmt.Sprintf("%s: %v", msg, other))
	}
	panic(msg)
}

// AssertNil panics when err is non-nil.
func AssertNil(err error, msg string) {
	if err == nil {
		return
	}
	panic(fmt.Sprintf("%s: %v", msg, err))
}
