package testutil

import "time"

// LockCall records a request received by the mock lock backend
type LockCall struct {
	Timestamp   time.Time
	Method      string
	Path        string
	RequestID   string
	ContentType string
}

// FilterCalls filters calls by method and path
func FilterCalls(calls []LockCall, method, path string) []LockCall {
	var filtered []LockCall
	for _, call := range calls {
		if call.Method == method && call.Path == path {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// LastCall returns the most recent call, or nil if there were none
func LastCall(calls []LockCall) *LockCall {
	if len(calls) == 0 {
		return nil
	}
	call := calls[len(calls)-1]
	return &call
}
