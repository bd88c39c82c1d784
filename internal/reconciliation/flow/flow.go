/*
Copyright 2025 Runelabs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package flow holds the small outcome algebra used by the reconcilers:
// every reconcile step returns an Outcome that either lets the pass go on
// or stops it with a result (done, requeue, failure).
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Outcome labels, as reported by Outcome.Label.
const (
	LabelContinue = "continue"
	LabelDone     = "done"
	LabelRequeue  = "requeue"
	LabelError    = "error"
)

// Wrapf wraps err with formatted context.
//
// It returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Outcome is the decision of a single reconcile step.
//
// A nil result means the pass goes on; err may still carry an error that is
// bubbled to the caller.
type Outcome struct {
	result *ctrl.Result
	err    error
}

// ShouldReturn reports whether the step asks to stop the current pass.
func (o Outcome) ShouldReturn() bool { return o.result != nil }

// Error returns the error carried by the outcome, if any.
func (o Outcome) Error() error { return o.err }

// ToCtrl unwraps the outcome into the values returned from Reconcile.
func (o Outcome) ToCtrl() (ctrl.Result, error) {
	if o.result == nil {
		return ctrl.Result{}, o.err
	}
	return *o.result, o.err
}

// Wrapf adds context to the carried error and keeps the decision as is.
func (o Outcome) Wrapf(format string, args ...any) Outcome {
	o.err = Wrapf(o.err, format, args...)
	return o
}

// Label classifies the outcome for metrics and logs.
func (o Outcome) Label() string {
	switch {
	case o.err != nil:
		return LabelError
	case o.result == nil:
		return LabelContinue
	case o.result.RequeueAfter > 0:
		return LabelRequeue
	default:
		return LabelDone
	}
}

// Begin starts the root of a reconcile pass. It returns the logger carried by
// ctx, or stores fallback into ctx when it carries none.
func Begin(ctx context.Context, fallback logr.Logger) (context.Context, logr.Logger) {
	if l, err := logr.FromContext(ctx); err == nil {
		return ctx, l
	}
	return logr.NewContext(ctx, fallback), fallback
}

// BeginPhase starts a named step of the pass. The returned ctx carries a
// logger named after the step and enriched with keysAndValues.
//
// phaseName must be a '/'-separated list of ASCII identifiers; anything else panics.
func BeginPhase(ctx context.Context, phaseName string, keysAndValues ...any) (context.Context, logr.Logger) {
	mustBeValidPhaseName(phaseName)
	if len(keysAndValues)%2 != 0 {
		panic("flow.BeginPhase: odd number of key/value arguments for phase " + phaseName)
	}
	l := log.FromContext(ctx).WithName(phaseName)
	if len(keysAndValues) > 0 {
		l = l.WithValues(keysAndValues...)
	}
	return log.IntoContext(ctx, l), l
}

// Continue lets the pass go on.
func Continue() Outcome { return Outcome{} }

// ContinueErr lets the pass go on while bubbling err to the caller.
func ContinueErr(err error) Outcome {
	if err == nil {
		return Continue()
	}
	return Outcome{err: err}
}

// Done stops the pass without requeueing.
func Done() Outcome { return Outcome{result: &ctrl.Result{}} }

// Fail stops the pass with an error. The controller retries it through its rate limiter.
func Fail(err error) Outcome {
	if err == nil {
		panic("flow.Fail: nil error")
	}
	return Outcome{result: &ctrl.Result{}, err: err}
}

// Failf is Fail with Wrapf context.
func Failf(err error, format string, args ...any) Outcome {
	return Fail(Wrapf(err, format, args...))
}

// RequeueAfter stops the pass and schedules the next one after dur.
func RequeueAfter(dur time.Duration) Outcome {
	if dur <= 0 {
		panic("flow.RequeueAfter: duration must be > 0")
	}
	return Outcome{result: &ctrl.Result{RequeueAfter: dur}}
}

// Merge combines outcomes of independent steps.
//
// Errors are joined. The decision is, by priority: Fail when there is an
// error and any step stopped; the smallest RequeueAfter; Done; Continue.
func Merge(outcomes ...Outcome) Outcome {
	var (
		stopped      bool
		requeueAfter time.Duration
		errs         []error
	)

	for _, o := range outcomes {
		if o.err != nil {
			errs = append(errs, o.err)
		}
		if o.result == nil {
			continue
		}
		stopped = true

		if o.result.Requeue {
			panic("flow.Merge: Requeue=true is not supported")
		}
		if d := o.result.RequeueAfter; d > 0 && (requeueAfter == 0 || d < requeueAfter) {
			requeueAfter = d
		}
	}

	err := errors.Join(errs...)
	switch {
	case err != nil && stopped:
		return Fail(err)
	case err != nil:
		return ContinueErr(err)
	case requeueAfter > 0:
		return RequeueAfter(requeueAfter)
	case stopped:
		return Done()
	default:
		return Continue()
	}
}

func mustBeValidPhaseName(name string) {
	if name == "" {
		panic("flow.BeginPhase: phaseName must be non-empty")
	}

	segLen := 0
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '/' {
			if segLen == 0 {
				panic("flow.BeginPhase: phaseName must not contain empty segments: " + name)
			}
			segLen = 0
			continue
		}

		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if !isLetter && !isDigit && c != '-' && c != '_' && c != '.' {
			panic(fmt.Sprintf("flow.BeginPhase: phaseName contains unsupported character %q: %s", c, name))
		}
		segLen++
	}

	if segLen == 0 {
		panic("flow.BeginPhase: phaseName must not end with '/': " + name)
	}
}
