package methods

import "fmt"

// UnknownMethodError is returned for a method name outside the method set.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("Unknown method: %s", e.Method)
}

// ArgumentError reports params that do not match a method's signature.
type ArgumentError struct {
	Method  string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}
