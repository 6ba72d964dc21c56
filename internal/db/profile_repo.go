package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"gather/internal/types"
)

// ProfileRepository provides read access to the profiles table, the
// application's mirror of the auth provider's user records.
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository creates a new ProfileRepository backed by the given
// database connection (pool or transaction).
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetByUserID fetches a user's profile. A missing profile returns
// (nil, nil): profile lookups soft-fail by contract so one deleted account
// never aborts a notification job. The recipient simply has no email and
// is recorded as such in the log.
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID string) (*types.Profile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT user_id, email, display_name FROM profiles WHERE user_id = $1`,
		userID,
	)

	var (
		p           types.Profile
		email       *string
		displayName *string
	)
	if err := row.Scan(&p.UserID, &email, &displayName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get profile", err)
	}

	if email != nil {
		p.Email = *email
	}
	if displayName != nil {
		p.DisplayName = *displayName
	}

	return &p, nil
}
