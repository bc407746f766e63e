package deployer

import (
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/trufnetwork/lambda-e2e/lib/errs"
)

// Phase is the lifecycle position of a stack being created.
type Phase int

const (
	PhasePending Phase = iota
	PhaseInProgress
	PhaseComplete
	PhaseFailed
	// PhaseTimedOut has no CloudFormation status. The deployer enters it when
	// its poll attempts run out, see PhaseOfResult.
	PhaseTimedOut
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "PENDING"
	case PhaseInProgress:
		return "IN_PROGRESS"
	case PhaseComplete:
		return "COMPLETE"
	case PhaseFailed:
		return "FAILED"
	case PhaseTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is expected.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseTimedOut
}

// PhaseOf maps a CloudFormation status onto the creation lifecycle. Anything
// other than a running or successful create counts as failed.
func PhaseOf(status types.StackStatus) Phase {
	switch status {
	case "":
		return PhasePending
	case types.StackStatusCreateInProgress, types.StackStatusReviewInProgress:
		return PhaseInProgress
	case types.StackStatusCreateComplete:
		return PhaseComplete
	}
	if strings.HasSuffix(string(status), "_IN_PROGRESS") && !strings.HasPrefix(string(status), "ROLLBACK") &&
		!strings.HasPrefix(string(status), "DELETE") {
		return PhaseInProgress
	}
	return PhaseFailed
}

// PhaseOfResult maps the error returned by Create onto the lifecycle. Errors
// outside the deployment taxonomy, such as a rejected CreateStack call, leave
// the stack PhasePending.
func PhaseOfResult(err error) Phase {
	var (
		timeout *errs.DeploymentTimeoutError
		failed  *errs.DeploymentFailedError
	)
	switch {
	case err == nil:
		return PhaseComplete
	case errors.As(err, &timeout):
		return PhaseTimedOut
	case errors.As(err, &failed):
		return PhaseFailed
	default:
		return PhasePending
	}
}
