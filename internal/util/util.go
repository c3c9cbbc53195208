package util

import (
	"fmt"
	"runtime"
	"strings"
)

// GetTrace produces the string representation of a stack trace
func GetTrace() string {
	var name, file string
	var line int
	var pc [16]uintptr
	var res strings.Builder
	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			fmt.Fprintf(&res, "%s\n\t%s:%d\n", name, file, line)
		}
	}
	return res.String()
}

// SafeStage wraps a pipeline stage function such that panics are recovered
// and converted into errors carrying a stack trace
func SafeStage(name string, stage func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				if anErr, ok := r.(error); ok {
					err = fmt.Errorf("%s stage panic: %w\n%s", name, anErr, GetTrace())
				} else {
					err = fmt.Errorf("%s stage panic: %v\n%s", name, r, GetTrace())
				}
			}
		}()
		err = stage()
		return
	}
}
