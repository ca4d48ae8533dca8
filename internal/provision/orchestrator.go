// internal/provision/orchestrator.go
// The orchestrator sequences authentication, challenge handling, the wizard
// and finalization. It suspends exactly at the two challenge states by
// parking the page in the session store and returning a pending result; a
// later resume call picks the workflow back up. Every entry point returns a
// WorkflowResult; internal errors are folded into it and never escape raw.
package provision

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tessierlabs/storeforge/api/schemas"
	"github.com/tessierlabs/storeforge/internal/config"
)

const (
	emailFieldSelector   = `input#account_email`
	submitButtonSelector = `button[type="submit"]`
)

type Orchestrator struct {
	logger  *zap.Logger
	partner config.PartnerConfig
	cfg     config.ProvisionConfig

	factory   schemas.PageFactory
	recorder  schemas.ProvisionRecorder
	sessions  *SessionStore
	detector  *Detector
	locator   *Locator
	engine    *Engine
	finalizer *Finalizer
}

var _ schemas.Provisioner = (*Orchestrator)(nil)

func NewOrchestrator(partner config.PartnerConfig, cfg config.ProvisionConfig, factory schemas.PageFactory, recorder schemas.ProvisionRecorder, logger *zap.Logger) *Orchestrator {
	locator := NewLocator(logger)
	return &Orchestrator{
		logger:    logger.Named("orchestrator"),
		partner:   partner,
		cfg:       cfg,
		factory:   factory,
		recorder:  recorder,
		sessions:  NewSessionStore(cfg.SessionTTL, logger),
		detector:  NewDetector(logger),
		locator:   locator,
		engine:    NewEngine(locator, cfg.StepWait, logger),
		finalizer: NewFinalizer(recorder, logger),
	}
}

// Sessions exposes the session store for janitor wiring.
func (o *Orchestrator) Sessions() *SessionStore {
	return o.sessions
}

// Start begins a new provisioning workflow. Owners that already have a
// provisioned storefront are rejected before any browser interaction.
func (o *Orchestrator) Start(ctx context.Context, storeName, ownerID string) schemas.WorkflowResult {
	o.logger.Info("Starting provisioning workflow.",
		zap.String("store_name", storeName),
		zap.String("owner_id", ownerID))

	already, err := o.recorder.IsProvisioned(ctx, ownerID)
	if err != nil {
		return o.fail(ctx, nil, nil, "provisioning precondition check failed", err)
	}
	if already {
		return o.fail(ctx, nil, nil, "storefront already provisioned for this owner", nil)
	}

	page, err := o.factory.NewPage(ctx)
	if err != nil {
		return o.fail(ctx, nil, nil, "failed to open browser page", err)
	}

	meta := schemas.SessionMeta{
		StoreName: storeName,
		OwnerID:   ownerID,
		Step:      schemas.StepAuthenticating,
		CreatedAt: time.Now(),
	}
	return o.authenticate(ctx, page, meta)
}

// authenticate drives the partner login flow up to the first challenge or
// into store creation.
func (o *Orchestrator) authenticate(ctx context.Context, page schemas.Page, meta schemas.SessionMeta) schemas.WorkflowResult {
	if err := page.Navigate(ctx, o.partner.HomepageURL); err != nil {
		return o.fail(ctx, page, nil, "failed to reach partner homepage", err)
	}

	o.reachLoginPage(ctx, page)

	hasEmail, err := page.Exists(ctx, emailFieldSelector)
	if err != nil {
		return o.fail(ctx, page, nil, "login page probe failed", err)
	}
	if !hasEmail {
		// A still-valid partner session skips the whole login form.
		o.logger.Info("No login form present, assuming authenticated.")
		return o.createStore(ctx, page, nil, meta)
	}

	if err := page.Type(ctx, emailFieldSelector, o.partner.Email); err != nil {
		return o.fail(ctx, page, nil, "failed to enter email", err)
	}
	if err := page.Click(ctx, submitButtonSelector); err != nil {
		return o.fail(ctx, page, nil, "failed to submit email", err)
	}
	_ = page.WaitSettled(ctx, o.cfg.StepWait)

	// The partner's puzzle widget occasionally fails to load outright. One
	// reload recovers it; the workflow then suspends for the human anyway.
	loadErr, err := o.detector.CaptchaLoadError(ctx, page)
	if err != nil {
		return o.fail(ctx, page, nil, "captcha load check failed", err)
	}
	if loadErr {
		o.logger.Warn("Captcha failed to load, reloading page.")
		if err := page.Reload(ctx); err != nil {
			return o.fail(ctx, page, nil, "reload after captcha load error failed", err)
		}
		return o.suspend(page, meta, schemas.StepCaptchaReload, schemas.ResultCaptchaRequired)
	}

	challenge, err := o.detector.Detect(ctx, page, o.cfg.ChallengeWindow, o.detector.LoginClassifiers())
	if err != nil {
		return o.fail(ctx, page, nil, "challenge detection failed", err)
	}
	switch challenge {
	case schemas.ChallengeCaptcha:
		return o.suspend(page, meta, schemas.StepCaptcha, schemas.ResultCaptchaRequired)
	case schemas.ChallengeTwoFactor:
		return o.suspend(page, meta, schemas.StepTwoFactor, schemas.ResultTwoFactorRequired)
	}

	if !o.waitForSelector(ctx, page, credentialFieldSelector, 30*time.Second) {
		return o.fail(ctx, page, nil, "password field not found after email submission", nil)
	}
	return o.submitPassword(ctx, page, nil, meta)
}

// reachLoginPage clicks the homepage's login affordance, falling back to
// direct navigation when it cannot be found.
func (o *Orchestrator) reachLoginPage(ctx context.Context, page schemas.Page) {
	intent := loginIntent()
	match, ok, err := o.locator.Find(ctx, page, intent)
	if !ok || err != nil {
		intent.Kind = schemas.ElementButton
		match, ok, err = o.locator.Find(ctx, page, intent)
	}
	if ok && err == nil {
		if err := page.Click(ctx, match.Element.Selector); err == nil {
			_ = page.WaitSettled(ctx, o.cfg.StepWait)
			return
		}
	}

	o.logger.Warn("Login affordance not found, navigating to lookup page directly.")
	if err := page.Navigate(ctx, o.partner.LookupURL); err != nil {
		o.logger.Warn("Direct navigation to lookup page failed.", zap.Error(err))
	}
}

// submitPassword enters the credential, submits it and races the two-factor
// classifiers. sess is nil on the initial pass and non-nil when resuming
// after a captcha.
func (o *Orchestrator) submitPassword(ctx context.Context, page schemas.Page, sess *Session, meta schemas.SessionMeta) schemas.WorkflowResult {
	if err := page.Type(ctx, credentialFieldSelector, o.partner.Password); err != nil {
		return o.fail(ctx, page, sess, "failed to enter password", err)
	}
	if err := page.Click(ctx, submitButtonSelector); err != nil {
		return o.fail(ctx, page, sess, "failed to submit password", err)
	}

	challenge, err := o.detector.Detect(ctx, page, o.cfg.TwoFactorWindow, o.detector.TwoFactorClassifiers())
	if err != nil {
		return o.fail(ctx, page, sess, "two-factor detection failed", err)
	}
	if challenge == schemas.ChallengeTwoFactor {
		if sess != nil {
			sess.SetStep(schemas.StepTwoFactor)
			return schemas.WorkflowResult{Kind: schemas.ResultTwoFactorRequired, SessionID: sess.ID}
		}
		return o.suspend(page, meta, schemas.StepTwoFactor, schemas.ResultTwoFactorRequired)
	}

	o.logger.Info("Authentication completed without two-factor prompt.")
	return o.createStore(ctx, page, sess, meta)
}

// createStore drives the admin landing page, the signup wizard and the
// store-name form, then finalizes.
func (o *Orchestrator) createStore(ctx context.Context, page schemas.Page, sess *Session, meta schemas.SessionMeta) schemas.WorkflowResult {
	if sess != nil {
		sess.SetStep(schemas.StepWizard)
	}
	meta.Step = schemas.StepWizard

	if err := page.Navigate(ctx, o.partner.AdminURL); err != nil {
		return o.fail(ctx, page, sess, "failed to reach admin page", err)
	}

	// Entry point into the creation flow. Best-effort: a fresh partner
	// account sometimes drops straight into the signup wizard.
	entry := []Step{{Intent: createStoreIntent(), SettleAfter: true}}
	if err := o.engine.Run(ctx, page, entry); err != nil {
		return o.fail(ctx, page, sess, "creation flow entry failed", err)
	}

	url, err := page.CurrentURL(ctx)
	if err != nil {
		return o.fail(ctx, page, sess, "failed to read page location", err)
	}
	if strings.Contains(url, "/signup") || strings.Contains(url, "signup_types") {
		// Signup form before the wizard: name the store and continue.
		signup := []Step{
			{
				Intent: Intent{
					Name:            "signup store name",
					Kind:            schemas.ElementInput,
					Keywords:        [][]string{{"nom"}, {"name"}, {"store"}},
					AllowPositional: true,
				},
				Action: ActionType,
				Input:  meta.StoreName,
			},
			{Intent: submitIntent("submit signup form"), SettleAfter: true},
		}
		if err := o.engine.Run(ctx, page, signup); err != nil {
			return o.fail(ctx, page, sess, "signup form failed", err)
		}
	}

	if err := o.engine.Run(ctx, page, wizardSlides()); err != nil {
		return o.fail(ctx, page, sess, "wizard failed", err)
	}

	// When the wizard landed on the admin page the store already exists
	// under a generated name; otherwise the store-name form is the
	// mandatory checkpoint.
	url, err = page.CurrentURL(ctx)
	if err != nil {
		return o.fail(ctx, page, sess, "failed to read page location", err)
	}
	if _, addrErr := ExtractDomain(url); addrErr != nil {
		if err := o.engine.Run(ctx, page, storeNameSteps(meta.StoreName)); err != nil {
			return o.fail(ctx, page, sess, "store creation form failed", err)
		}
		if err := page.WaitSettled(ctx, o.cfg.CreationTimeout); err != nil {
			return o.fail(ctx, page, sess, "store creation did not complete", err)
		}
	}

	// Rename epilogue. The store exists either way; a miss is logged only.
	if err := o.engine.Run(ctx, page, renameSteps(meta.StoreName)); err != nil {
		o.logger.Warn("Store rename epilogue failed.", zap.Error(err))
	}

	return o.finalize(ctx, page, sess, meta)
}

func (o *Orchestrator) finalize(ctx context.Context, page schemas.Page, sess *Session, meta schemas.SessionMeta) schemas.WorkflowResult {
	if sess != nil {
		sess.SetStep(schemas.StepFinalizing)
	}

	provisioned, err := o.finalizer.Finalize(ctx, page, meta.OwnerID)
	if err != nil {
		return o.fail(ctx, page, sess, "finalization failed", err)
	}

	if sess != nil {
		o.sessions.Delete(ctx, sess.ID)
	} else if err := page.Close(ctx); err != nil {
		o.logger.Warn("Error closing page after success.", zap.Error(err))
	}

	return schemas.WorkflowResult{
		Kind:        schemas.ResultSuccess,
		StoreDomain: provisioned.Domain,
		AdminURL:    provisioned.AdminURL,
	}
}

// ResumeCaptcha continues a workflow suspended at a puzzle challenge.
func (o *Orchestrator) ResumeCaptcha(ctx context.Context, sessionID string) schemas.WorkflowResult {
	sess, ok := o.sessions.Get(sessionID)
	if !ok {
		return schemas.WorkflowResult{Kind: schemas.ResultFailure, Reason: ErrSessionNotFound.Error()}
	}
	if !sess.TryAcquire() {
		return schemas.WorkflowResult{Kind: schemas.ResultRetryableInput, SessionID: sessionID, Reason: ErrSessionBusy.Error()}
	}
	defer sess.Release()

	o.logger.Info("Resuming after captcha.", zap.String("session_id", sessionID))

	page := sess.Page
	if !page.Connected() {
		return o.fail(ctx, page, sess, "browser disconnected while suspended", ErrBrowserDisconnected)
	}

	solved, err := o.detector.WaitCaptchaSolved(ctx, page, o.cfg.CreationTimeout)
	if err != nil {
		return o.fail(ctx, page, sess, "waiting for captcha solution failed", err)
	}
	if !solved {
		// Session stays alive; the caller can try again once the puzzle is
		// actually solved.
		return schemas.WorkflowResult{Kind: schemas.ResultRetryableInput, SessionID: sessionID, Reason: "captcha still unsolved"}
	}

	// After the puzzle the site may want the email login re-chosen before
	// showing the password form.
	if err := o.engine.Run(ctx, page, []Step{{Intent: emailLoginIntent()}}); err != nil {
		return o.fail(ctx, page, sess, "post-captcha login failed", err)
	}
	if !o.waitForSelector(ctx, page, credentialFieldSelector, 30*time.Second) {
		return o.fail(ctx, page, sess, "password field not found after captcha", nil)
	}

	return o.submitPassword(ctx, page, sess, sess.Meta())
}

// ResumeTwoFactor continues a workflow suspended at a code prompt. A wrong
// code keeps the session alive and resumable.
func (o *Orchestrator) ResumeTwoFactor(ctx context.Context, sessionID, code string) schemas.WorkflowResult {
	sess, ok := o.sessions.Get(sessionID)
	if !ok {
		return schemas.WorkflowResult{Kind: schemas.ResultFailure, Reason: ErrSessionNotFound.Error()}
	}
	if !sess.TryAcquire() {
		return schemas.WorkflowResult{Kind: schemas.ResultRetryableInput, SessionID: sessionID, Reason: ErrSessionBusy.Error()}
	}
	defer sess.Release()

	o.logger.Info("Resuming with verification code.", zap.String("session_id", sessionID))

	page := sess.Page
	if !page.Connected() {
		return o.fail(ctx, page, sess, "browser disconnected while suspended", ErrBrowserDisconnected)
	}

	if err := o.enterCode(ctx, page, code); err != nil {
		return o.fail(ctx, page, sess, "failed to enter verification code", err)
	}
	_ = page.WaitSettled(ctx, o.cfg.StepWait)

	still, err := o.detector.StillOnChallengePage(ctx, page)
	if err != nil {
		return o.fail(ctx, page, sess, "post-code page check failed", err)
	}
	if still {
		o.logger.Info("Verification code rejected, session kept alive.", zap.String("session_id", sessionID))
		return schemas.WorkflowResult{Kind: schemas.ResultRetryableInput, SessionID: sessionID, Reason: "verification code rejected"}
	}

	return o.createStore(ctx, page, sess, sess.Meta())
}

// enterCode fills the one-time-code input and submits it.
func (o *Orchestrator) enterCode(ctx context.Context, page schemas.Page, code string) error {
	hasOTP, err := page.Exists(ctx, otpFieldSelector)
	if err != nil {
		return err
	}
	if hasOTP {
		if err := page.Type(ctx, otpFieldSelector, code); err != nil {
			return err
		}
	} else {
		// No recognizable code field; fall back to the first visible text
		// input on the prompt.
		codeInput := []Step{{
			Intent: Intent{
				Name:            "verification code input",
				Kind:            schemas.ElementInput,
				Keywords:        [][]string{{"otp"}, {"code"}},
				AllowPositional: true,
			},
			Action: ActionType,
			Input:  code,
		}}
		if err := o.engine.Run(ctx, page, codeInput); err != nil {
			return err
		}
	}

	hasSubmit, err := page.Exists(ctx, submitButtonSelector)
	if err != nil {
		return err
	}
	if hasSubmit {
		return page.Click(ctx, submitButtonSelector)
	}
	return o.engine.Run(ctx, page, []Step{{Intent: submitIntent("submit verification code"), Mandatory: true}})
}

// Cancel closes the session's browser and deletes the session. Idempotent.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) bool {
	o.logger.Info("Canceling session.", zap.String("session_id", sessionID))
	return o.sessions.Delete(ctx, sessionID)
}

// Status returns the read-only view of a suspended session.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (schemas.SessionStatus, bool) {
	sess, ok := o.sessions.Get(sessionID)
	if !ok {
		return schemas.SessionStatus{}, false
	}
	meta := sess.Meta()
	return schemas.SessionStatus{
		SessionID: sess.ID,
		StoreName: meta.StoreName,
		Step:      meta.Step,
		Age:       time.Since(meta.CreatedAt).Round(time.Second).String(),
	}, true
}

// suspend parks the page in the session store and returns the pending result.
func (o *Orchestrator) suspend(page schemas.Page, meta schemas.SessionMeta, step schemas.StepMarker, kind schemas.ResultKind) schemas.WorkflowResult {
	meta.Step = step
	sess := o.sessions.Create(page, meta)
	o.logger.Info("Workflow suspended.",
		zap.String("session_id", sess.ID),
		zap.String("step", string(step)))
	return schemas.WorkflowResult{Kind: kind, SessionID: sess.ID}
}

// fail is the single terminal-failure path: it closes the page, deletes the
// session if one exists, and folds the error into the result's reason.
func (o *Orchestrator) fail(ctx context.Context, page schemas.Page, sess *Session, reason string, err error) schemas.WorkflowResult {
	o.logger.Error("Workflow failed.", zap.String("reason", reason), zap.Error(err))

	// Closing must survive a caller-canceled context.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sess != nil {
		o.sessions.Delete(cleanupCtx, sess.ID)
	} else if page != nil {
		if cerr := page.Close(cleanupCtx); cerr != nil {
			o.logger.Warn("Error closing page during failure cleanup.", zap.Error(cerr))
		}
	}

	if err != nil {
		reason = reason + ": " + err.Error()
	}
	return schemas.WorkflowResult{Kind: schemas.ResultFailure, Reason: reason}
}

// waitForSelector polls for a visible selector until the budget elapses.
func (o *Orchestrator) waitForSelector(ctx context.Context, page schemas.Page, selector string, budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		found, err := page.Exists(ctx, selector)
		if err == nil && found {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(defaultPollInterval):
		}
	}
	return false
}
