package infra

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

var stackNameInvalid = regexp.MustCompile(`[^A-Za-z0-9-]+`)

// UniqueStackName appends a random suffix to prefix. Concurrent runs are
// isolated only by this name.
func UniqueStackName(prefix string) string {
	prefix = strings.Trim(stackNameInvalid.ReplaceAllString(prefix, "-"), "-")
	if prefix == "" {
		prefix = "e2e"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%s", prefix, suffix)
}

// Session deploys the stack, runs fn against its outputs and always deletes
// the stack afterwards, also when Deploy or fn failed. Errors from every step
// are combined.
func Session(ctx context.Context, inf *Infrastructure, fn func(ctx context.Context, outputs Outputs) error) (err error) {
	defer func() {
		// deletion must be requested even when ctx is already cancelled
		err = multierr.Append(err, inf.Delete(context.WithoutCancel(ctx)))
	}()

	outputs, err := inf.Deploy(ctx)
	if err != nil {
		return fmt.Errorf("deploy %s: %w", inf.StackName(), err)
	}
	return fn(ctx, outputs)
}
