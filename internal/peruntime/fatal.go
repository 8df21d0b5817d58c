// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package peruntime

import (
	"fmt"
	"os"

	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

// ExitCode enumerates spec.md section 6's exit codes. The spec names
// these but does not fix their numeric values; we assign small
// sequential codes and record the mapping here since nothing outside
// this runtime's own FINISH propagation observes the numbers directly.
type ExitCode int

const (
	ExitNormal ExitCode = iota
	ExitUserException
	ExitInterrupted
	ExitHeapExhaustion
	ExitInternalError
)

func (c ExitCode) String() string {
	switch c {
	case ExitNormal:
		return "normal"
	case ExitUserException:
		return "uncaught user exception"
	case ExitInterrupted:
		return "interrupted"
	case ExitHeapExhaustion:
		return "heap exhaustion"
	case ExitInternalError:
		return "internal error"
	}
	return "unknown"
}

// FatalError wraps the condition that tore a PE down, per spec.md
// section 7's propagation policy: fatal conditions terminate the PE
// via an internal-error path that still attempts a best-effort quit.
type FatalError struct {
	Err  error
	Code ExitCode
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("pe-runtime: fatal (%s): %v", e.Code, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal logs err at ERROR (minilog's FATAL level exits at once), attempts a best-effort Shutdown so the main
// PE still observes a FINISH rather than a silent death (spec.md
// section 7), and exits the process with code's numeric value. rt may
// be nil if the failure happened before Startup completed.
func Fatal(rt *Runtime, err error, code ExitCode) {
	log.Error("peruntime: fatal: %v", &FatalError{Err: err, Code: code})

	if rt != nil {
		if _, quitErr := rt.Shutdown(int(code)); quitErr != nil {
			log.Error("peruntime: best-effort shutdown during fatal failed: %v", quitErr)
		}
	}

	os.Exit(int(code))
}
