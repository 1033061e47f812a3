package catalogue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ingestpipe/pkg/apperror"
	"ingestpipe/pkg/database"
	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/telemetry"
)

// PostgresRepository is the authoritative, Postgres-backed Repository.
type PostgresRepository struct {
	db database.DB
}

// NewPostgresRepository wires a Repository on top of a database handle.
func NewPostgresRepository(db database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ByAPIKey(ctx context.Context, apiKey string) (*domain.Source, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.ByAPIKey")
	defer span.End()

	return r.queryRow(ctx, `
		SELECT id, name, api_keys, bearer_subjects, mtls_subject, allowed_clients,
		       udp_port, enabled, tier, created_at, last_seen_at
		FROM sources
		WHERE $1 = ANY(api_keys)
	`, apiKey)
}

func (r *PostgresRepository) ByBearerSubject(ctx context.Context, subject string) (*domain.Source, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.ByBearerSubject")
	defer span.End()

	return r.queryRow(ctx, `
		SELECT id, name, api_keys, bearer_subjects, mtls_subject, allowed_clients,
		       udp_port, enabled, tier, created_at, last_seen_at
		FROM sources
		WHERE $1 = ANY(bearer_subjects)
	`, subject)
}

func (r *PostgresRepository) ByMTLSSubject(ctx context.Context, subject string) (*domain.Source, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.ByMTLSSubject")
	defer span.End()

	return r.queryRow(ctx, `
		SELECT id, name, api_keys, bearer_subjects, mtls_subject, allowed_clients,
		       udp_port, enabled, tier, created_at, last_seen_at
		FROM sources
		WHERE mtls_subject = $1
	`, subject)
}

func (r *PostgresRepository) ByUDPPort(ctx context.Context, port int) (*domain.Source, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.ByUDPPort")
	defer span.End()

	return r.queryRow(ctx, `
		SELECT id, name, api_keys, bearer_subjects, mtls_subject, allowed_clients,
		       udp_port, enabled, tier, created_at, last_seen_at
		FROM sources
		WHERE udp_port = $1
	`, port)
}

func (r *PostgresRepository) queryRow(ctx context.Context, query string, arg any) (*domain.Source, error) {
	var (
		s              domain.Source
		apiKeys        []string
		bearerSubjects []string
		mtlsSubject    *string
		allowedClients []string
		udpPort        *int
		tier           string
	)

	err := r.db.QueryRow(ctx, query, arg).Scan(
		&s.ID, &s.Name, &apiKeys, &bearerSubjects, &mtlsSubject, &allowedClients,
		&udpPort, &s.Enabled, &tier, &s.CreatedAt, &s.LastSeenAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to query source: %w", err)
	}

	s.APIKeys = apiKeys
	s.BearerSubjects = bearerSubjects
	s.Tier = domain.ParseTier(tier)
	if mtlsSubject != nil {
		s.MTLSSubject = *mtlsSubject
	}
	if udpPort != nil {
		s.UDPPort = *udpPort
	}
	s.AllowedClients = decodeAllowedClients(allowedClients)

	return &s, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, source *domain.Source) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.Upsert")
	defer span.End()

	if err := source.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO sources (id, name, api_keys, bearer_subjects, mtls_subject,
			allowed_clients, udp_port, enabled, tier, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, 0), $8, $9, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			api_keys = EXCLUDED.api_keys,
			bearer_subjects = EXCLUDED.bearer_subjects,
			mtls_subject = EXCLUDED.mtls_subject,
			allowed_clients = EXCLUDED.allowed_clients,
			udp_port = EXCLUDED.udp_port,
			enabled = EXCLUDED.enabled,
			tier = EXCLUDED.tier
		RETURNING created_at, last_seen_at
	`

	err := r.db.QueryRow(ctx, query,
		source.ID,
		source.Name,
		source.APIKeys,
		source.BearerSubjects,
		source.MTLSSubject,
		encodeAllowedClients(source.AllowedClients),
		source.UDPPort,
		source.Enabled,
		source.Tier.String(),
	).Scan(&source.CreatedAt, &source.LastSeenAt)

	if err != nil {
		if isUniqueViolation(err) {
			return apperror.NewWithField(apperror.CodeInvalidInput, "source id already registered", "id")
		}
		return fmt.Errorf("failed to upsert source: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Touch(ctx context.Context, sourceID string) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.Touch")
	defer span.End()

	result, err := r.db.Exec(ctx, `UPDATE sources SET last_seen_at = $2 WHERE id = $1`, sourceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to touch source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.ErrSourceNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Source, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.List")
	defer span.End()

	rows, err := r.db.Query(ctx, `
		SELECT id, name, api_keys, bearer_subjects, mtls_subject, allowed_clients,
		       udp_port, enabled, tier, created_at, last_seen_at
		FROM sources
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var out []*domain.Source
	for rows.Next() {
		var (
			s              domain.Source
			apiKeys        []string
			bearerSubjects []string
			mtlsSubject    *string
			allowedClients []string
			udpPort        *int
			tier           string
		)
		if err := rows.Scan(
			&s.ID, &s.Name, &apiKeys, &bearerSubjects, &mtlsSubject, &allowedClients,
			&udpPort, &s.Enabled, &tier, &s.CreatedAt, &s.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		s.APIKeys = apiKeys
		s.BearerSubjects = bearerSubjects
		s.Tier = domain.ParseTier(tier)
		if mtlsSubject != nil {
			s.MTLSSubject = *mtlsSubject
		}
		if udpPort != nil {
			s.UDPPort = *udpPort
		}
		s.AllowedClients = decodeAllowedClients(allowedClients)
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return out, nil
}

// encodeAllowedClients renders each client as "network/prefixLen" for
// storage in a text[] column.
func encodeAllowedClients(clients []domain.AllowedClient) []string {
	out := make([]string, 0, len(clients))
	for _, c := range clients {
		out = append(out, fmt.Sprintf("%s/%d", c.Network, c.PrefixLen))
	}
	return out
}

func decodeAllowedClients(raw []string) []domain.AllowedClient {
	out := make([]domain.AllowedClient, 0, len(raw))
	for _, entry := range raw {
		parts := strings.SplitN(entry, "/", 2)
		if len(parts) != 2 {
			continue
		}
		prefixLen, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		out = append(out, domain.AllowedClient{Network: parts[0], PrefixLen: prefixLen})
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
