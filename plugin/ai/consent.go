package ai

import "context"

// ConsentChecker is the consent feed supplied by the privacy collaborator.
// Every AI-backed entry point (embed, search, reindex) consults it before
// any network or store call. Consent storage itself lives outside this
// subsystem.
type ConsentChecker interface {
	AIProcessingEnabled(ctx context.Context, ownerID string) (bool, error)
}

// StaticConsent is a ConsentChecker with a fixed answer for every owner.
// Useful for deployments where consent is managed entirely upstream.
type StaticConsent bool

func (s StaticConsent) AIProcessingEnabled(ctx context.Context, ownerID string) (bool, error) {
	return bool(s), nil
}
