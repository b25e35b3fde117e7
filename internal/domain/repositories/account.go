package repositories

import (
	"context"

	"github.com/nizardhr/askstan-sub000/internal/domain/models"
)

type AccountRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)

	// MarkOnboardingCompleted is a best-effort flag flip after a successful
	// checkout; a failure is logged and retried on a later gate check.
	MarkOnboardingCompleted(ctx context.Context, id int64) error
}
