// Package broadcast defines the port for streaming pipeline events to connected clients.
package broadcast

import (
	"context"

	"github.com/chainwright/chainwright/internal/domain/event"
)

// Broadcaster fans a pipeline event out to all connected clients.
// Delivery is best-effort; slow clients must not block the pipeline.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev event.PipelineEvent)
}
