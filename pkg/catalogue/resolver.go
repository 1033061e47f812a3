// Package catalogue resolves inbound records to a registered Source and
// keeps a short-lived cache in front of the authoritative Postgres store.
package catalogue

import (
	"context"

	"ingestpipe/pkg/domain"
)

// Resolver looks up a Source by the various credentials a receiver can
// observe on an inbound connection.
type Resolver interface {
	// ByAPIKey resolves a source that presented the given API key.
	ByAPIKey(ctx context.Context, apiKey string) (*domain.Source, error)
	// ByBearerSubject resolves a source whose JWT claims carry this subject.
	ByBearerSubject(ctx context.Context, subject string) (*domain.Source, error)
	// ByMTLSSubject resolves a source by its client certificate subject.
	ByMTLSSubject(ctx context.Context, subject string) (*domain.Source, error)
	// ByUDPPort resolves the source a syslog listener is bound to.
	ByUDPPort(ctx context.Context, port int) (*domain.Source, error)
}

// Repository is the write-capable store backing a Resolver. The catalogue's
// write path (provisioning new sources) is out of scope for this module;
// Repository exists so migrations and tests can seed rows directly.
type Repository interface {
	Resolver
	Upsert(ctx context.Context, source *domain.Source) error
	Touch(ctx context.Context, sourceID string) error
	List(ctx context.Context) ([]*domain.Source, error)
}
