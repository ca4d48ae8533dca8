// api/schemas/interfaces.go
package schemas

import "context"

// Provisioner is the contract between the HTTP surface and the provisioning
// engine. All entry points return a WorkflowResult; callers branch on its
// Kind and never see internal errors.
type Provisioner interface {
	// Start begins a new provisioning workflow for ownerID. Owners that
	// already have a provisioned storefront are rejected before any browser
	// interaction happens.
	Start(ctx context.Context, storeName, ownerID string) WorkflowResult

	// ResumeCaptcha continues a workflow suspended at a puzzle challenge.
	// The caller asserts a human has solved it in the live browser.
	ResumeCaptcha(ctx context.Context, sessionID string) WorkflowResult

	// ResumeTwoFactor continues a workflow suspended at a one-time-code
	// prompt. A wrong code yields ResultRetryableInput and keeps the
	// session alive.
	ResumeTwoFactor(ctx context.Context, sessionID, code string) WorkflowResult

	// Cancel closes the session's browser and deletes the session. It is
	// idempotent and safe to call after the browser disconnected on its own.
	Cancel(ctx context.Context, sessionID string) bool

	// Status returns the read-only view of a suspended session.
	Status(ctx context.Context, sessionID string) (SessionStatus, bool)
}

// ProvisionRecorder is the outbound persistence collaborator. MarkProvisioned
// is called exactly once per workflow, only after finalization succeeds.
type ProvisionRecorder interface {
	IsProvisioned(ctx context.Context, ownerID string) (bool, error)
	MarkProvisioned(ctx context.Context, ownerID string, p Provisioned) error
}
