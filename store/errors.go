package store

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"unicode"
)

var (
	// ErrRecordNotFound is returned when an id is not cached.
	ErrRecordNotFound = errors.New("store: record not found")
	// ErrNotCloned is returned by Commit and Reset for ids without a working copy.
	ErrNotCloned = errors.New("store: record has no working copy")
	// ErrNoRealID is returned when promoting with a record that carries no real id.
	ErrNoRealID = errors.New("store: record has no real id")
)

// ErrorInfo is the plain descriptor stored for failed calls. It only holds
// strings and maps so it survives JSON and msgpack encoding.
type ErrorInfo struct {
	Name    string         `json:"name" msgpack:"name"`
	Message string         `json:"message" msgpack:"message"`
	Stack   string         `json:"stack,omitempty" msgpack:"stack,omitempty"`
	Causes  []string       `json:"causes,omitempty" msgpack:"causes,omitempty"`
	Fields  map[string]any `json:"fields,omitempty" msgpack:"fields,omitempty"`
}

func (e ErrorInfo) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

type fielder interface {
	ErrorFields() map[string]any
}

type stacker interface {
	StackTrace() string
}

// NewErrorInfo describes err. Errors exposing ErrorFields() contribute their
// structured fields; errors exposing StackTrace() provide the stack, otherwise
// the caller's stack is captured.
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Name: errorName(err), Message: err.Error()}

	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		info.Causes = append(info.Causes, cause.Error())
	}

	var f fielder
	if errors.As(err, &f) {
		fields := f.ErrorFields()
		if len(fields) > 0 {
			info.Fields = make(map[string]any, len(fields))
			for k, v := range fields {
				info.Fields[k] = v
			}
		}
	}

	var s stacker
	if errors.As(err, &s) {
		info.Stack = s.StackTrace()
	} else {
		info.Stack = callers(3)
	}
	return info
}

func errorName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" || !unicode.IsUpper(rune(name[0])) {
		return "Error"
	}
	return name
}

func callers(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
