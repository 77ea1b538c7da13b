package report

import (
	"fmt"

	"github.com/afdcore/afd/urlcfg"
)

// ExitError tags a fetch worker's terminal error with the stable process
// exit code spec §6 names, mirroring the teacher's %w-wrapped error style
// (backend/ftp/ftp.go: "NewFs: %w") rather than a panic/longjmp-style
// exceptional exit (spec §9 design note).
type ExitError struct {
	Code urlcfg.ExitCode
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exit wraps err with code, or returns nil if err is nil.
func Exit(code urlcfg.ExitCode, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}
