package archive

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAlreadyExists           = errors.New("archive already exists")
	ErrNotFound                = errors.New("archive not found")
	ErrPermissionDenied        = errors.New("permission denied by platform")
	ErrConfirmationRequired    = errors.New("delete requires confirmation")
	ErrPartialFailure          = errors.New("operation partially failed")
	ErrReconciliationAmbiguous = errors.New("archive author could not be resolved")
	ErrRemote                  = errors.New("platform call failed")
)

// CreateError reports a create that stopped part way. Channels created before
// the failure are left in place and listed in Leftovers.
type CreateError struct {
	Archive   string
	Step      string
	Leftovers []Channel
	Err       error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("create archive %q: %s: %v (%d channels left behind)", e.Archive, e.Step, e.Err, len(e.Leftovers))
}

func (e *CreateError) Unwrap() error {
	return e.Err
}

// PartialFailureError lists the sub-operations that failed while others succeeded.
type PartialFailureError struct {
	Op       string
	Archive  string
	Failures []string
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s %q: %d step(s) failed: %s", e.Op, e.Archive, len(e.Failures), strings.Join(e.Failures, "; "))
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}

// remoteErr classifies a collaborator failure: permission denials keep their
// identity, everything else becomes ErrRemote.
func remoteErr(err error) error {
	if err == nil || errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrRemote) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrRemote, err)
}
