// Package minilog is a small, dependency-free leveled logger used
// throughout the PE runtime. Every subsystem logs through it rather
// than the standard "log" package so that per-PE prologues and
// per-subsystem verbosity filters apply uniformly.
package minilog

import (
	"fmt"
	"log"
	"os"
	"sync"
)

var (
	loggersLock sync.Mutex
	loggers     = map[string]*minilogger{}

	pePrefix string
)

// SetPE installs a "[PE n]" prologue on every subsequent log line, per
// the diagnostic convention every PE follows.
func SetPE(pe int) {
	pePrefix = fmt.Sprintf("[PE %d]", pe)
}

// AddLogger registers a logger under name. level is the minimum level
// that will be emitted; color enables ANSI coloring of the prologue.
func AddLogger(name string, out logger, level Level, color bool) {
	loggersLock.Lock()
	defer loggersLock.Unlock()

	loggers[name] = &minilogger{
		logger: out,
		Level:  level,
		Color:  color,
	}
}

// AddLogFilter adds a substring filter to an already-registered logger;
// matching lines are dropped. Used to silence noisy subsystems (e.g.
// "pack:" lines) without raising the overall level.
func AddLogFilter(name, filter string) {
	loggersLock.Lock()
	defer loggersLock.Unlock()

	if l, ok := loggers[name]; ok {
		l.filters = append(l.filters, filter)
	}
}

// DelLogger unregisters a previously added logger.
func DelLogger(name string) {
	loggersLock.Lock()
	defer loggersLock.Unlock()
	delete(loggers, name)
}

// WillLog reports whether any registered logger would emit a message
// at the given level. Call sites guard expensive Sprintf-heavy debug
// lines with this.
func WillLog(level Level) bool {
	loggersLock.Lock()
	defer loggersLock.Unlock()

	for _, l := range loggers {
		if level >= l.Level {
			return true
		}
	}
	return false
}

func dispatch(level Level, format string, arg ...interface{}) {
	loggersLock.Lock()
	defer loggersLock.Unlock()

	for _, l := range loggers {
		if level >= l.Level {
			l.log(level, "", format, arg...)
		}
	}
}

func dispatchln(level Level, arg ...interface{}) {
	loggersLock.Lock()
	defer loggersLock.Unlock()

	for _, l := range loggers {
		if level >= l.Level {
			l.logln(level, "", arg...)
		}
	}
}

func Debug(format string, arg ...interface{})  { dispatch(DEBUG, format, arg...) }
func Debugln(arg ...interface{})               { dispatchln(DEBUG, arg...) }
func Info(format string, arg ...interface{})   { dispatch(INFO, format, arg...) }
func Infoln(arg ...interface{})                { dispatchln(INFO, arg...) }
func Warn(format string, arg ...interface{})   { dispatch(WARN, format, arg...) }
func Warnln(arg ...interface{})                { dispatchln(WARN, arg...) }
func Error(format string, arg ...interface{})  { dispatch(ERROR, format, arg...) }
func Errorln(arg ...interface{})               { dispatchln(ERROR, arg...) }

// Fatal logs at FATAL and terminates the process. Callers that need to
// attempt a clean shutdown first should do so before calling Fatal.
func Fatal(format string, arg ...interface{}) {
	dispatch(FATAL, format, arg...)
	os.Exit(1)
}

func Fatalln(arg ...interface{}) {
	dispatchln(FATAL, arg...)
	os.Exit(1)
}

// init registers a default stderr logger at INFO so a program that
// never calls AddLogger still sees warnings and errors.
func init() {
	AddLogger("stderr", log.New(os.Stderr, "", log.LstdFlags), INFO, false)
}
