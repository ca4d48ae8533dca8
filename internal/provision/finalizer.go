// internal/provision/finalizer.go
package provision

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/tessierlabs/storeforge/api/schemas"
)

// addressPatterns are the known shapes of a provisioned store's admin URL.
// First capture group is the store handle. Checked in order.
var addressPatterns = []*regexp.Regexp{
	// https://<handle>.myshopify.com/admin
	regexp.MustCompile(`^https://([^./]+)\.[^/]+/admin`),
	// https://admin.shopify.com/store/<handle>
	regexp.MustCompile(`^https://admin\.shopify\.com/store/([^/?#]+)`),
}

// Finalizer extracts the provisioned store's address from the final page
// location and records it with the persistence collaborator.
type Finalizer struct {
	logger   *zap.Logger
	recorder schemas.ProvisionRecorder
}

func NewFinalizer(recorder schemas.ProvisionRecorder, logger *zap.Logger) *Finalizer {
	return &Finalizer{
		logger:   logger.Named("finalizer"),
		recorder: recorder,
	}
}

// ExtractDomain parses the store handle out of an admin URL.
func ExtractDomain(adminURL string) (string, error) {
	for _, p := range addressPatterns {
		if m := p.FindStringSubmatch(adminURL); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrAddressUndetectable, adminURL)
}

// Finalize reads the page's current location, extracts the store address and
// persists it for the owner. MarkProvisioned is called at most once per
// workflow; a persistence failure after a successful extraction is terminal,
// the half-created external store is left as-is.
func (f *Finalizer) Finalize(ctx context.Context, page schemas.Page, ownerID string) (schemas.Provisioned, error) {
	adminURL, err := page.CurrentURL(ctx)
	if err != nil {
		return schemas.Provisioned{}, fmt.Errorf("%w: reading final location: %v", ErrBrowserDisconnected, err)
	}

	domain, err := ExtractDomain(adminURL)
	if err != nil {
		return schemas.Provisioned{}, err
	}

	p := schemas.Provisioned{
		Domain:        domain,
		AdminURL:      adminURL,
		ProvisionedAt: time.Now(),
	}

	if err := f.recorder.MarkProvisioned(ctx, ownerID, p); err != nil {
		return schemas.Provisioned{}, fmt.Errorf("recording provisioned store: %w", err)
	}

	f.logger.Info("Store provisioned.",
		zap.String("owner_id", ownerID),
		zap.String("domain", domain),
		zap.String("admin_url", adminURL))
	return p, nil
}
