// Package errs holds the error taxonomy shared by the deploy, package, verify and
// teardown steps. Every error surfaces to the caller; nothing here is retried.
package errs

import (
	"fmt"
	"strings"
)

// NotFoundError reports a missing local directory or file, or a stack the
// provisioning service does not know about.
type NotFoundError struct {
	What string
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s not found: %s: %v", e.What, e.Path, e.Err)
	}
	return fmt.Sprintf("%s not found: %s", e.What, e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// UploadError is a failed object storage write. It is fatal for the deploy attempt.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ResourceFailure is one failed resource event reported for a stack.
type ResourceFailure struct {
	LogicalID string
	Status    string
	Reason    string
}

// DeploymentFailedError is returned when the provisioning service itself reports
// that stack creation failed. The stack is left in place for diagnosis.
type DeploymentFailedError struct {
	Stack            string
	Status           string
	Reason           string
	ResourceFailures []ResourceFailure
}

func (e *DeploymentFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stack %s failed with status %s", e.Stack, e.Status)
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	for _, f := range e.ResourceFailures {
		fmt.Fprintf(&b, "; %s %s: %s", f.LogicalID, f.Status, f.Reason)
	}
	return b.String()
}

// DeploymentTimeoutError is returned when the poll budget ran out before the
// stack reached a terminal state. The outcome is unknown; the stack may still
// be creating and should still be deleted.
type DeploymentTimeoutError struct {
	Stack      string
	Attempts   int
	LastStatus string
}

func (e *DeploymentTimeoutError) Error() string {
	return fmt.Sprintf("stack %s not complete after %d attempts (last status %q)", e.Stack, e.Attempts, e.LastStatus)
}

// InvocationError wraps a failed synchronous function invocation. Payload holds
// the raw response body when the function itself reported the error.
type InvocationError struct {
	FunctionID    string
	StatusCode    int32
	FunctionError string
	Payload       []byte
	Err           error
}

func (e *InvocationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("invoke %s: %v", e.FunctionID, e.Err)
	case e.FunctionError != "":
		return fmt.Sprintf("invoke %s: function error %s: %s", e.FunctionID, e.FunctionError, e.Payload)
	default:
		return fmt.Sprintf("invoke %s: unexpected status %d", e.FunctionID, e.StatusCode)
	}
}

func (e *InvocationError) Unwrap() error { return e.Err }
