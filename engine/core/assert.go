package core

import "fmt"

// AssertionError is the value carried by the panic raised when a caller
// breaks the contract of a renderer object.
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	return "assertion failed: " + e.Message
}

// Assert logs and panics with an *AssertionError when cond is false.
func Assert(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	LogError("assertion failed: %s", msg)
	panic(&AssertionError{Message: msg})
}
