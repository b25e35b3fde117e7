package models

import (
	"time"
)

// Account is the identity-provider subject that owns at most one
// subscription. Accounts are created by the identity provider; this service
// only flips OnboardingCompleted after a successful checkout.
type Account struct {
	ID                  int64     `json:"id" db:"id"`
	Email               string    `json:"email" db:"email"`
	Username            string    `json:"username" db:"username"`
	OnboardingCompleted bool      `json:"onboarding_completed" db:"onboarding_completed"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}
