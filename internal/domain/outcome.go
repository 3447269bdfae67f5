package domain

import (
	"context"

	"github.com/google/uuid"
)

// Status is the two-valued result of a feature execution.
type Status int

const (
	StatusSucceeded Status = 200
	StatusFailed    Status = 400
)

// Outcome is what a feature executor reports for one streamup or streamdown.
type Outcome struct {
	Status  Status
	Message string
}

func Succeeded(message string) Outcome {
	return Outcome{Status: StatusSucceeded, Message: message}
}

func Failed(message string) Outcome {
	return Outcome{Status: StatusFailed, Message: message}
}

func (o Outcome) OK() bool {
	return o.Status == StatusSucceeded
}

// Alert is an operator-facing failure report.
type Alert struct {
	Title   string
	Message string
	UserID  uuid.UUID
	Feature Feature
}

// Notifier delivers alerts to the operator channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// FeatureOutcome is the result of one feature's executor for one notification.
// Err is set when the executor failed in a way that is not a plain Failed outcome.
type FeatureOutcome struct {
	Feature Feature
	Outcome Outcome
	Err     error
}

// DispatchReport describes what a notification dispatch did.
type DispatchReport struct {
	// Discarded is set when a stale stream.online was dropped without running any feature.
	Discarded bool
	Outcomes  []FeatureOutcome
}

// Failed returns the outcomes that did not succeed.
func (r DispatchReport) Failed() []FeatureOutcome {
	var failed []FeatureOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil || !o.Outcome.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// NotificationDispatcher routes a verified notification to the user's enabled features.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n Notification) (DispatchReport, error)
}
