// api/schemas/provision.go
package schemas

import "time"

// Challenge classifies the human-only verification step a partner page is
// currently presenting, as decided by the challenge detector.
type Challenge int

const (
	// ChallengeNone means the page is ready for automated credential entry
	// (or the detection window elapsed without a classification).
	ChallengeNone Challenge = iota
	// ChallengeCaptcha means a visual puzzle is blocking progress.
	ChallengeCaptcha
	// ChallengeTwoFactor means the page is prompting for a one-time code.
	ChallengeTwoFactor
)

func (c Challenge) String() string {
	switch c {
	case ChallengeCaptcha:
		return "captcha"
	case ChallengeTwoFactor:
		return "two_factor"
	default:
		return "none"
	}
}

// ResultKind discriminates the variants of a WorkflowResult.
type ResultKind string

const (
	// ResultSuccess: the storefront was provisioned and persisted.
	ResultSuccess ResultKind = "success"
	// ResultCaptchaRequired: the workflow is suspended until a human solves
	// the puzzle in the live browser and the caller resumes the session.
	ResultCaptchaRequired ResultKind = "captcha_required"
	// ResultTwoFactorRequired: the workflow is suspended until the caller
	// supplies a one-time verification code.
	ResultTwoFactorRequired ResultKind = "two_factor_required"
	// ResultRetryableInput: the supplied human input was rejected by the
	// partner site but the session is still alive and may be retried.
	ResultRetryableInput ResultKind = "retryable_input_error"
	// ResultFailure: terminal. The browser is closed and the session gone.
	ResultFailure ResultKind = "failure"
)

// WorkflowResult is the single return type of every orchestrator entry point.
// Exactly one variant applies; callers branch on Kind. Internal errors never
// cross this boundary raw, they are folded into Reason.
type WorkflowResult struct {
	Kind      ResultKind `json:"kind"`
	SessionID string     `json:"sessionId,omitempty"`
	Reason    string     `json:"reason,omitempty"`

	// Populated on success only.
	StoreDomain string `json:"storeDomain,omitempty"`
	AdminURL    string `json:"adminUrl,omitempty"`
}

// Pending reports whether the workflow is suspended waiting on human input.
func (r WorkflowResult) Pending() bool {
	return r.Kind == ResultCaptchaRequired || r.Kind == ResultTwoFactorRequired
}

// Terminal reports whether no session remains after this result.
func (r WorkflowResult) Terminal() bool {
	return r.Kind == ResultSuccess || r.Kind == ResultFailure
}

// StepMarker records how far a suspended workflow progressed, so a resume
// call knows where to pick up.
type StepMarker string

const (
	StepAuthenticating StepMarker = "authenticating"
	StepCaptcha        StepMarker = "captcha"
	StepCaptchaReload  StepMarker = "captcha_reload"
	StepTwoFactor      StepMarker = "two_factor"
	StepWizard         StepMarker = "wizard"
	StepFinalizing     StepMarker = "finalizing"
)

// SessionMeta is the workflow metadata persisted alongside a suspended
// session's browser handle. It is owned by exactly one session and is never
// shared across sessions.
type SessionMeta struct {
	StoreName string
	OwnerID   string
	Step      StepMarker
	CreatedAt time.Time
}

// Provisioned describes a successfully created storefront, as handed to the
// persistence collaborator by the finalizer.
type Provisioned struct {
	Domain        string
	AdminURL      string
	ProvisionedAt time.Time
}

// SessionStatus is the read-only view of a suspended session exposed to
// polling callers.
type SessionStatus struct {
	SessionID string     `json:"sessionId"`
	StoreName string     `json:"storeName"`
	Step      StepMarker `json:"step"`
	Age       string     `json:"age"`
}
