package store

import (
	"context"
	"errors"

	"github.com/dunamismax/assetflow/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore persists job status and output locations. Asset bytes live in
// object storage, never here.
type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	Complete(ctx context.Context, id string, result domain.Result) (domain.Job, error)
}
