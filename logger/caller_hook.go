package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const maxCallerDepth = 24

// pkgPath is this package's import path, taken from a local symbol so the
// hook keeps working if the module is renamed.
var pkgPath = func() string {
	pc, _, _, _ := runtime.Caller(0)
	name := runtime.FuncForPC(pc).Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		if j := strings.Index(name[i:], "."); j >= 0 {
			return name[:i+j]
		}
	}
	if j := strings.Index(name, "."); j >= 0 {
		return name[:j]
	}
	return name
}()

// callerHook points entry.Caller at the pipeline code that logged, not at
// the Log/Entry wrappers or logrus itself.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	if f, ok := firstForeignFrame(); ok {
		entry.Caller = &f
	}
	return nil
}

func internalFrame(fn string) bool {
	return strings.HasPrefix(fn, "github.com/sirupsen/logrus") || strings.HasPrefix(fn, pkgPath+".")
}

// firstForeignFrame walks up from the hook past logrus and this package.
func firstForeignFrame() (runtime.Frame, bool) {
	pcs := make([]uintptr, maxCallerDepth)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for f, more := frames.Next(); ; f, more = frames.Next() {
		if f.Function != "" && !internalFrame(f.Function) {
			return f, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}
