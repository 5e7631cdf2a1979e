// Package artifactstore defines the port interface for the versioned
// artifact trail and the request records it hangs off.
package artifactstore

import (
	"context"

	"github.com/chainwright/chainwright/internal/domain/artifact"
	"github.com/chainwright/chainwright/internal/domain/request"
)

// Store is the port interface for request and artifact persistence.
//
// Append is conditional on (request_id, kind, version) being free: a second
// append for an occupied slot returns domain.ErrVersionConflict unless the
// payload digest matches the stored record, in which case it is a no-op.
// Version numbering itself lives in the versioner service; the store only
// reports what exists.
type Store interface {
	// Requests
	CreateRequest(ctx context.Context, rc *request.RequestContext) (*request.RequestContext, error)
	GetRequest(ctx context.Context, requestID string) (*request.RequestContext, error)
	ListRequests(ctx context.Context) ([]request.RequestContext, error)
	UpdateRequestStatus(ctx context.Context, requestID string, status request.Status, failReason string) error
	AppendAgent(ctx context.Context, requestID string, agentName string) error

	// Artifacts
	Append(ctx context.Context, rec *artifact.Record) error
	Get(ctx context.Context, requestID string, kind artifact.Kind, version int) (*artifact.Record, error)
	Current(ctx context.Context, requestID string, kind artifact.Kind) (*artifact.Record, error)
	Versions(ctx context.Context, requestID string, kind artifact.Kind) ([]artifact.Record, error)
	MaxVersion(ctx context.Context, requestID string, kind artifact.Kind) (int, error)

	// Admin
	CountArtifacts(ctx context.Context) (int64, error)
	ClearRequest(ctx context.Context, requestID string) (int64, error)
	Ping(ctx context.Context) error
}
