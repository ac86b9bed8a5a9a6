// Package entitlement reads tenant plan limits and decides whether an ingestion or query is allowed.
package entitlement

import (
	"context"
	"fmt"

	"github.com/gns-pkulkarni/chatbot-saas/internal/config"
	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
)

// Provider returns the current entitlement snapshot of a tenant.
type Provider interface {
	Snapshot(ctx context.Context, tenantID string) (*models.EntitlementSnapshot, error)
}

// Reason identifies why a request was denied.
type Reason string

const (
	ReasonNoSubscription Reason = "no_subscription"
	ReasonSiteLimit      Reason = "sites"
	ReasonUploadsOff     Reason = "uploads_disabled"
	ReasonDocumentLimit  Reason = "documents"
)

// DeniedError is returned when a tenant's plan does not allow the request.
type DeniedError struct {
	Reason  Reason
	Message string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("upgrade_required:%s: %s", e.Reason, e.Message)
}

// Active reports whether the tenant may use the service. A subscription whose cancellation is
// pending stays usable until the paid period ends.
func Active(s *models.EntitlementSnapshot) bool {
	return s != nil && (s.SubscriptionActive || s.PendingCancellation)
}

// CheckQuery returns a DeniedError unless the tenant may ask questions.
func CheckQuery(s *models.EntitlementSnapshot) error {
	if !Active(s) {
		return &DeniedError{Reason: ReasonNoSubscription, Message: "no active subscription found"}
	}
	return nil
}

// CheckIngest returns a DeniedError unless the tenant may add one more source of kind,
// given existing sources of that kind already registered.
func CheckIngest(s *models.EntitlementSnapshot, kind models.SourceKind, existing int) error {
	if err := CheckQuery(s); err != nil {
		return err
	}
	switch kind {
	case models.SourceKindURL:
		if s.MaxSites != models.Unlimited && existing >= s.MaxSites {
			return &DeniedError{Reason: ReasonSiteLimit, Message: fmt.Sprintf("you've reached the maximum limit of %d website(s) for your current plan", s.MaxSites)}
		}
	case models.SourceKindDocument:
		if !s.CanUploadDocs {
			return &DeniedError{Reason: ReasonUploadsOff, Message: "document uploads are not available in your current plan"}
		}
		if s.MaxDocuments != models.Unlimited && existing >= s.MaxDocuments {
			return &DeniedError{Reason: ReasonDocumentLimit, Message: fmt.Sprintf("you've reached the maximum limit of %d document(s) for your current plan", s.MaxDocuments)}
		}
	}
	return nil
}

// StaticProvider serves snapshots from the plan table in config, for standalone deployments
// without an external billing service.
type StaticProvider struct {
	defaultPlan string
	plans       map[string]config.PlanConfig
	tenants     map[string]string
}

// NewStaticProvider builds a provider from cfg. Tenants not listed get the default plan.
func NewStaticProvider(cfg config.EntitlementConfig) *StaticProvider {
	return &StaticProvider{defaultPlan: cfg.DefaultPlan, plans: cfg.Plans, tenants: cfg.Tenants}
}

// Snapshot implements Provider. An unknown plan yields an inactive snapshot.
func (p *StaticProvider) Snapshot(_ context.Context, tenantID string) (*models.EntitlementSnapshot, error) {
	name, ok := p.tenants[tenantID]
	if !ok {
		name = p.defaultPlan
	}
	plan, ok := p.plans[name]
	if !ok {
		return &models.EntitlementSnapshot{}, nil
	}
	return &models.EntitlementSnapshot{
		MaxSites:            plan.MaxSites,
		MaxDocuments:        plan.MaxDocuments,
		CanUploadDocs:       plan.CanUploadDocs,
		SubscriptionActive:  plan.Active,
		PendingCancellation: plan.PendingCancellation,
	}, nil
}
