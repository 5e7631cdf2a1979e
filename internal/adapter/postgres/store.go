package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainwright/chainwright/internal/domain"
	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/request"
)

// Store implements artifactstore.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Requests ---

const requestColumns = `request_id, user_query, agent_chain, status, fail_reason, created_at, updated_at`

func scanRequest(sc scannable, rc *request.RequestContext) error {
	return sc.Scan(
		&rc.RequestID, &rc.UserQuery, &rc.AgentChain,
		&rc.Status, &rc.FailReason, &rc.CreatedAt, &rc.UpdatedAt,
	)
}

func (s *Store) CreateRequest(ctx context.Context, rc *request.RequestContext) (*request.RequestContext, error) {
	stored := rc.Clone()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO requests (request_id, user_query, agent_chain, status, fail_reason)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		rc.RequestID, rc.UserQuery, pgTextArray(rc.AgentChain), string(rc.Status), rc.FailReason).
		Scan(&stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create request %s: %w", rc.RequestID, domain.ErrDuplicateRequest)
		}
		return nil, fmt.Errorf("create request %s: %w", rc.RequestID, err)
	}
	return stored, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (*request.RequestContext, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM requests WHERE request_id = $1`, requestColumns), requestID)

	var rc request.RequestContext
	if err := scanRequest(row, &rc); err != nil {
		return nil, notFoundWrap(err, "get request %s", requestID)
	}
	return &rc, nil
}

func (s *Store) ListRequests(ctx context.Context) ([]request.RequestContext, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM requests ORDER BY created_at DESC`, requestColumns))
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []request.RequestContext
	for rows.Next() {
		var rc request.RequestContext
		if err := scanRequest(rows, &rc); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, rc)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) UpdateRequestStatus(ctx context.Context, requestID string, status request.Status, failReason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE requests SET status = $2, fail_reason = $3, updated_at = now() WHERE request_id = $1`,
		requestID, string(status), failReason)
	return execExpectOne(tag, err, "update request status %s", requestID)
}

func (s *Store) AppendAgent(ctx context.Context, requestID string, agentName string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE requests SET agent_chain = array_append(agent_chain, $2), updated_at = now() WHERE request_id = $1`,
		requestID, agentName)
	return execExpectOne(tag, err, "append agent to request %s", requestID)
}

// --- Artifacts ---

const artifactColumns = `id, request_id, kind, version, digest, payload, created_at`

func scanArtifact(sc scannable, rec *artifact.Record) error {
	return sc.Scan(
		&rec.ID, &rec.RequestID, &rec.Kind, &rec.Version,
		&rec.Digest, &rec.Payload, &rec.CreatedAt,
	)
}

// Append inserts rec unless its (request_id, kind, version) slot is taken.
// An occupied slot with an identical digest is treated as a no-op replay;
// any other content conflicts.
func (s *Store) Append(ctx context.Context, rec *artifact.Record) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (id, request_id, kind, version, digest, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (request_id, kind, version) DO NOTHING`,
		rec.ID, rec.RequestID, string(rec.Kind), rec.Version, rec.Digest, rec.Payload)
	if err != nil {
		return fmt.Errorf("append artifact %s: %w", rec.Key(), err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var storedDigest string
	err = s.pool.QueryRow(ctx,
		`SELECT digest FROM artifacts WHERE request_id = $1 AND kind = $2 AND version = $3`,
		rec.RequestID, string(rec.Kind), rec.Version).Scan(&storedDigest)
	if err != nil {
		return notFoundWrap(err, "append artifact %s", rec.Key())
	}
	if storedDigest == rec.Digest {
		return nil
	}
	return fmt.Errorf("append artifact %s: %w", rec.Key(), domain.ErrVersionConflict)
}

func (s *Store) Get(ctx context.Context, requestID string, kind artifact.Kind, version int) (*artifact.Record, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM artifacts WHERE request_id = $1 AND kind = $2 AND version = $3`, artifactColumns),
		requestID, string(kind), version)

	var rec artifact.Record
	if err := scanArtifact(row, &rec); err != nil {
		return nil, notFoundWrap(err, "get artifact %s/%s/v%d", requestID, kind, version)
	}
	return &rec, nil
}

func (s *Store) Current(ctx context.Context, requestID string, kind artifact.Kind) (*artifact.Record, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM artifacts WHERE request_id = $1 AND kind = $2 ORDER BY version DESC LIMIT 1`, artifactColumns),
		requestID, string(kind))

	var rec artifact.Record
	if err := scanArtifact(row, &rec); err != nil {
		return nil, notFoundWrap(err, "current artifact %s/%s", requestID, kind)
	}
	return &rec, nil
}

func (s *Store) Versions(ctx context.Context, requestID string, kind artifact.Kind) ([]artifact.Record, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM artifacts WHERE request_id = $1 AND kind = $2 ORDER BY version ASC`, artifactColumns),
		requestID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list artifact versions %s/%s: %w", requestID, kind, err)
	}
	defer rows.Close()

	var out []artifact.Record
	for rows.Next() {
		var rec artifact.Record
		if err := scanArtifact(rows, &rec); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, rec)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) MaxVersion(ctx context.Context, requestID string, kind artifact.Kind) (int, error) {
	var max int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM artifacts WHERE request_id = $1 AND kind = $2`,
		requestID, string(kind)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max artifact version %s/%s: %w", requestID, kind, err)
	}
	return max, nil
}

// --- Admin ---

func (s *Store) CountArtifacts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return n, nil
}

// ClearRequest purges the request row, its artifact trail, and its events,
// reporting how many artifacts were removed.
func (s *Store) ClearRequest(ctx context.Context, requestID string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx, `DELETE FROM artifacts WHERE request_id = $1`, requestID)
	if err != nil {
		return 0, fmt.Errorf("clear artifacts %s: %w", requestID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM pipeline_events WHERE request_id = $1`, requestID); err != nil {
		return 0, fmt.Errorf("clear events %s: %w", requestID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM requests WHERE request_id = $1`, requestID); err != nil {
		return 0, fmt.Errorf("clear request %s: %w", requestID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("clear request %s: %w", requestID, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
