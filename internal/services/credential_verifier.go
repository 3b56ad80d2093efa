package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
)

// UserLookup finds a user record by normalized email
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// VerifyOutcome is the result of one credential check. User is set whenever the
// email matched a record, even if the password did not.
type VerifyOutcome struct {
	User    *models.User
	Matched bool
}

// CredentialVerifier checks an email and password against the stored bcrypt hash
type CredentialVerifier struct {
	users     UserLookup
	dummyHash func() string
}

// NewCredentialVerifier creates a new CredentialVerifier
func NewCredentialVerifier(users UserLookup) *CredentialVerifier {
	return &CredentialVerifier{
		users:     users,
		dummyHash: pkgauth.DummyHash,
	}
}

// Verify never reveals which of email or password was wrong. Unknown emails
// still pay for a bcrypt comparison. Only storage failures return an error.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (VerifyOutcome, error) {
	email = pkgauth.NormalizeEmail(email)
	if email == "" || password == "" {
		return VerifyOutcome{}, nil
	}

	user, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = pkgauth.ComparePassword(v.dummyHash(), password)
			return VerifyOutcome{}, nil
		}
		return VerifyOutcome{}, fmt.Errorf("%w: user lookup: %v", models.ErrStorageFailure, err)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return VerifyOutcome{User: user}, nil
	}

	return VerifyOutcome{User: user, Matched: true}, nil
}
