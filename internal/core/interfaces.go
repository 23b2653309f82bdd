package core

import (
	"context"

	"github.com/care/postura/internal/capture"
	"github.com/care/postura/internal/types"
)

// Estimator is the pose model process managed by the service.
type Estimator interface {
	capture.Estimator
	ID() string
	Start(ctx context.Context) error
	Stop() error
	Metrics() types.WorkerMetrics
}
