package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/trufnetwork/lambda-e2e/config"
	"github.com/trufnetwork/lambda-e2e/scripts/renderer"
)

// ErrUnexpectedPayload is returned when an invocation answers with something
// other than the expected payload.
var ErrUnexpectedPayload = errors.New("unexpected payload")

// RunInvocations performs each invocation against the deployed stack and
// returns one report row per call. Every invocation runs; failures are combined.
func (i *Infrastructure) RunInvocations(ctx context.Context, invocations []config.Invocation) ([]renderer.HandlerResult, error) {
	var (
		rows []renderer.HandlerResult
		errs error
	)
	for _, inv := range invocations {
		row := renderer.HandlerResult{Name: inv.Handler}
		arn, err := i.FunctionARN(inv.Handler)
		if err != nil {
			row.Error = err.Error()
			rows = append(rows, row)
			errs = multierr.Append(errs, err)
			continue
		}
		row.FunctionARN = arn

		payload := []byte(inv.Payload)
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		got, err := i.Invoke(ctx, arn, payload)
		row.Payload = string(got)
		switch {
		case err != nil:
			row.Error = err.Error()
			errs = multierr.Append(errs, err)
		case inv.Expect != "" && !samePayload(got, []byte(inv.Expect)):
			err = fmt.Errorf("%w from %s: got %s, want %s", ErrUnexpectedPayload, inv.Handler, got, inv.Expect)
			row.Error = err.Error()
			errs = multierr.Append(errs, err)
		}
		i.l.Info("invocation finished", zap.String("handler", inv.Handler), zap.Bool("ok", row.Error == ""))
		rows = append(rows, row)
	}
	return rows, errs
}

// samePayload compares JSON documents structurally and anything else byte by byte.
func samePayload(got, want []byte) bool {
	var g, w any
	if json.Unmarshal(got, &g) == nil && json.Unmarshal(want, &w) == nil {
		gb, _ := json.Marshal(g)
		wb, _ := json.Marshal(w)
		return bytes.Equal(gb, wb)
	}
	return bytes.Equal(bytes.TrimSpace(got), bytes.TrimSpace(want))
}

// Report renders the markdown summary of a run.
func (i *Infrastructure) Report(rows []renderer.HandlerResult) (string, error) {
	return renderer.Render(renderer.TplReport, renderer.ReportData{
		Stack:    i.opts.StackName,
		Region:   i.opts.Region,
		Uploaded: i.Uploaded(),
		Handlers: rows,
	})
}
