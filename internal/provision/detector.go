// internal/provision/detector.go
// The partner site gives no single deterministic signal for "challenge vs.
// no challenge", so detection is a bounded race: the page is polled against
// an ordered list of classifiers and the first one to fire wins. The order
// encodes the tie-break rules; credential-entry readiness is always checked
// before challenge markers, because stale captcha DOM fragments routinely
// outlive the challenge itself.
package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tessierlabs/storeforge/api/schemas"
)

const (
	// credentialFieldSelector matches the password input of the partner's
	// login form. Its presence means the login flow is proceeding normally.
	credentialFieldSelector = `input#account_password, input[type="password"][name*="password"]`

	// otpFieldSelector matches the one-time-code input of the partner's
	// verification prompt.
	otpFieldSelector = `input#account_otp, input[name*="otp"], input[autocomplete="one-time-code"], input[type="tel"]`

	defaultPollInterval = 500 * time.Millisecond
)

// captchaMarkerSelectors are probed one by one; any visible match counts.
var captchaMarkerSelectors = []string{
	`[class*="captcha"]`,
	`[id*="captcha"]`,
	`iframe[src*="recaptcha"]`,
	`iframe[src*="captcha"]`,
	`.g-recaptcha`,
	`#recaptcha`,
	`[data-sitekey]`,
	`form[action*="captcha"]`,
}

var (
	captchaURLPattern    = regexp.MustCompile(`captcha_failed=true|captcha=true`)
	twoFactorURLPattern  = regexp.MustCompile(`(?i)two[-]?factor|verification_code|mfa`)
	challengePagePattern = regexp.MustCompile(`lookup|two-factor`)
)

// captchaLoadErrorText is the partner's banner when the puzzle widget itself
// failed to load. A reload usually recovers it.
const captchaLoadErrorText = "Impossible de charger le captcha"

// Classifier is one predicate in the detection race. Result is the challenge
// reported when the probe fires; ChallengeNone marks the proceed-normally
// classifiers.
type Classifier struct {
	Name   string
	Result schemas.Challenge
	Probe  func(ctx context.Context, page schemas.Page) (bool, error)
}

// Detector races an ordered classifier list against a bounded window.
type Detector struct {
	logger       *zap.Logger
	pollInterval time.Duration
}

func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{
		logger:       logger.Named("detector"),
		pollInterval: defaultPollInterval,
	}
}

// Detect polls the classifiers in order every poll interval until one fires
// or the window elapses. An elapsed window returns ChallengeNone: the caller
// proceeds optimistically and relies on the next stage to fail loudly if a
// challenge was actually missed. The only error returned is a dead page.
func (d *Detector) Detect(ctx context.Context, page schemas.Page, window time.Duration, classifiers []Classifier) (schemas.Challenge, error) {
	deadline := time.Now().Add(window)
	limiter := rate.NewLimiter(rate.Every(d.pollInterval), 1)

	// The deadline context keeps the limiter from blocking past the window.
	waitCtx, cancelWait := context.WithDeadline(ctx, deadline)
	defer cancelWait()

	for time.Now().Before(deadline) {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return schemas.ChallengeNone, ctx.Err()
			}
			break
		}

		for _, c := range classifiers {
			fired, err := c.Probe(ctx, page)
			if err != nil {
				if errors.Is(err, schemas.ErrPageClosed) {
					return schemas.ChallengeNone, fmt.Errorf("challenge detection: %w", ErrBrowserDisconnected)
				}
				d.logger.Debug("Classifier probe failed, continuing.", zap.String("classifier", c.Name), zap.Error(err))
				continue
			}
			if fired {
				d.logger.Info("Challenge classified.",
					zap.String("classifier", c.Name),
					zap.String("challenge", c.Result.String()))
				return c.Result, nil
			}
		}
	}

	d.logger.Info("Detection window elapsed without classification, proceeding.",
		zap.Duration("window", window))
	return schemas.ChallengeNone, nil
}

// LoginClassifiers detect what the partner presents right after the email is
// submitted: the password form (normal flow), a puzzle challenge, or an
// immediate code prompt.
func (d *Detector) LoginClassifiers() []Classifier {
	return []Classifier{
		{
			Name:   "credential_field_ready",
			Result: schemas.ChallengeNone,
			Probe:  probeSelector(credentialFieldSelector),
		},
		{
			Name:   "captcha_present",
			Result: schemas.ChallengeCaptcha,
			Probe:  d.probeCaptcha,
		},
		{
			Name:   "two_factor_prompt",
			Result: schemas.ChallengeTwoFactor,
			Probe:  d.probeTwoFactor,
		},
	}
}

// TwoFactorClassifiers detect the code prompt after the password is
// submitted. The credential classifier is deliberately absent here: the
// password form may still be painted while the site transitions.
func (d *Detector) TwoFactorClassifiers() []Classifier {
	return []Classifier{
		{
			Name:   "two_factor_prompt",
			Result: schemas.ChallengeTwoFactor,
			Probe:  d.probeTwoFactor,
		},
	}
}

func probeSelector(selector string) func(ctx context.Context, page schemas.Page) (bool, error) {
	return func(ctx context.Context, page schemas.Page) (bool, error) {
		return page.Exists(ctx, selector)
	}
}

// probeCaptcha fires when a captcha marker (or captcha-failure URL) is
// present and the credential field is not.
func (d *Detector) probeCaptcha(ctx context.Context, page schemas.Page) (bool, error) {
	hasCredential, err := page.Exists(ctx, credentialFieldSelector)
	if err != nil {
		return false, err
	}
	if hasCredential {
		return false, nil
	}

	url, err := page.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	if captchaURLPattern.MatchString(url) {
		return true, nil
	}

	for _, sel := range captchaMarkerSelectors {
		found, err := page.Exists(ctx, sel)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

func (d *Detector) probeTwoFactor(ctx context.Context, page schemas.Page) (bool, error) {
	url, err := page.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	if twoFactorURLPattern.MatchString(url) {
		return true, nil
	}
	return page.Exists(ctx, otpFieldSelector)
}

// CaptchaLoadError reports whether the page shows the partner's
// failed-to-load captcha banner.
func (d *Detector) CaptchaLoadError(ctx context.Context, page schemas.Page) (bool, error) {
	body, err := page.BodyText(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(body, captchaLoadErrorText), nil
}

// StillOnChallengePage reports whether the URL still looks like the login
// lookup or two-factor prompt. Used after code submission to distinguish a
// rejected code from a successful login.
func (d *Detector) StillOnChallengePage(ctx context.Context, page schemas.Page) (bool, error) {
	url, err := page.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	return challengePagePattern.MatchString(url), nil
}

// WaitCaptchaSolved polls until the captcha markers are gone and a login
// affordance (credential field or email-login button) is back, or the window
// elapses. The human solves the puzzle in the live browser; this only
// observes the result.
func (d *Detector) WaitCaptchaSolved(ctx context.Context, page schemas.Page, window time.Duration) (bool, error) {
	deadline := time.Now().Add(window)
	limiter := rate.NewLimiter(rate.Every(2*time.Second), 1)

	waitCtx, cancelWait := context.WithDeadline(ctx, deadline)
	defer cancelWait()

	for time.Now().Before(deadline) {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			break
		}

		onCaptcha, err := d.probeCaptcha(ctx, page)
		if err != nil {
			if errors.Is(err, schemas.ErrPageClosed) {
				return false, fmt.Errorf("captcha wait: %w", ErrBrowserDisconnected)
			}
			continue
		}
		if onCaptcha {
			continue
		}

		hasCredential, err := page.Exists(ctx, credentialFieldSelector)
		if err == nil && hasCredential {
			return true, nil
		}
		hasEmailLogin, err := hasEmailLoginButton(ctx, page)
		if err == nil && hasEmailLogin {
			return true, nil
		}
	}
	return false, nil
}

func hasEmailLoginButton(ctx context.Context, page schemas.Page) (bool, error) {
	elements, err := page.ListInteractive(ctx, schemas.ElementButton, schemas.ElementLink)
	if err != nil {
		return false, err
	}
	for _, el := range elements {
		text := normalizeText(el.Text)
		if strings.Contains(text, "se connecter avec email") ||
			strings.Contains(text, "se connecter avec e-mail") ||
			strings.Contains(text, "log in with email") {
			return true, nil
		}
	}
	return false, nil
}
