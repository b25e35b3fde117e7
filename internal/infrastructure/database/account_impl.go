package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nizardhr/askstan-sub000/internal/domain/models"
	"github.com/nizardhr/askstan-sub000/internal/domain/repositories"
)

type accountRepository struct {
	db *PostgresDB
}

func NewAccountRepository(db *PostgresDB) repositories.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	query := `SELECT id, email, username, onboarding_completed, created_at, updated_at
              FROM accounts WHERE id = $1`

	err := r.db.GetContext(ctx, &account, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account with id %d not found", id)
		}
		return nil, fmt.Errorf("failed to get account by id: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	query := `SELECT id, email, username, onboarding_completed, created_at, updated_at
              FROM accounts WHERE email = $1`

	err := r.db.GetContext(ctx, &account, query, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account with email %s not found", email)
		}
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) MarkOnboardingCompleted(ctx context.Context, id int64) error {
	query := `UPDATE accounts SET onboarding_completed = TRUE, updated_at = CURRENT_TIMESTAMP
              WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark onboarding completed: %w", err)
	}
	return nil
}
