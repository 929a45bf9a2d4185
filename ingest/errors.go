package ingest

import (
	"fmt"

	"github.com/c360/metaingest/errors"
)

// VetoError reports that a stage stopped the chain on purpose. It is a
// controlled outcome: the submission was rejected, nothing is broken.
type VetoError struct {
	Stage  string
	Reason string
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("stage %q vetoed request: %s", e.Stage, e.Reason)
}

func (e *VetoError) Unwrap() error { return errors.ErrVetoed }

// IsVetoed reports whether err is a veto from any stage.
func IsVetoed(err error) bool {
	return errors.Is(err, errors.ErrVetoed)
}

// PluginExecutionError reports a stage malfunction.
type PluginExecutionError struct {
	Stage string
	Err   error
}

func (e *PluginExecutionError) Error() string {
	return fmt.Sprintf("stage %q failed: %v", e.Stage, e.Err)
}

func (e *PluginExecutionError) Unwrap() []error {
	return []error{errors.ErrPluginExecution, e.Err}
}

// FailedStage returns the stage that vetoed or failed, if err came from a
// chain run.
func FailedStage(err error) (string, bool) {
	var ve *VetoError
	if errors.As(err, &ve) {
		return ve.Stage, true
	}
	var pe *PluginExecutionError
	if errors.As(err, &pe) {
		return pe.Stage, true
	}
	return "", false
}
