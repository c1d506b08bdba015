package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrStepLimitExceeded terminates runs whose frontier never empties within
// the configured step budget (cyclic or misconfigured graphs). The run
// fails deterministically instead of hanging.
var ErrStepLimitExceeded = errors.New("step budget exceeded")

// ErrRunNotActive is returned by Cancel for runs the coordinator is not
// currently driving.
var ErrRunNotActive = errors.New("run not active")

// TimeoutError reports a step exceeding its per-step deadline. It is
// retried like any other invocation failure.
type TimeoutError struct {
	StepID string
	Limit  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %s timed out after %s", e.StepID, e.Limit)
}
