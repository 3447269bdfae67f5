package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/streamlux/pulsebanner/internal/platform/crypto"
)

// AccountRepo reads users and their linked OAuth accounts. Token columns are
// encrypted with the configured crypto.Service.
type AccountRepo struct {
	pool   *pgxpool.Pool
	crypto crypto.Service
}

func NewAccountRepo(pool *pgxpool.Pool, cryptoSvc crypto.Service) *AccountRepo {
	return &AccountRepo{pool: pool, crypto: cryptoSvc}
}

func (r *AccountRepo) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var u domain.User
	var plan string
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, plan, created_at, updated_at
		FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Name, &u.Email, &plan, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Plan = domain.Plan(plan)
	return &u, nil
}

func (r *AccountRepo) GetAccount(ctx context.Context, userID uuid.UUID, provider domain.Provider) (*domain.Account, error) {
	var a domain.Account
	var prov string
	var expiresAt *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, provider, provider_account_id,
		       oauth_token, oauth_token_secret, access_token, refresh_token, expires_at
		FROM accounts WHERE user_id = $1 AND provider = $2`, userID, string(provider)).
		Scan(&a.ID, &a.UserID, &prov, &a.ProviderAccountID,
			&a.OAuthToken, &a.OAuthTokenSecret, &a.AccessToken, &a.RefreshToken, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s account: %w", provider, err)
	}
	a.Provider = domain.Provider(prov)
	if expiresAt != nil {
		a.ExpiresAt = *expiresAt
	}

	if err := r.decryptTokens(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// LinkedUserIDs lists the users that have linked an account with the provider.
func (r *AccountRepo) LinkedUserIDs(ctx context.Context, provider domain.Provider) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM accounts WHERE provider = $1 ORDER BY user_id`, string(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s accounts: %w", provider, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s accounts: %w", provider, err)
	}
	return ids, nil
}

// CreateUser inserts a user. Accounts are normally linked by the web app's login flow;
// this exists for seeding and tests.
func (r *AccountRepo) CreateUser(ctx context.Context, name, email string, plan domain.Plan) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, plan) VALUES ($1, $2, $3)
		RETURNING id, name, email, created_at, updated_at`, name, email, string(plan)).
		Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	u.Plan = plan
	return &u, nil
}

func (r *AccountRepo) SetPlan(ctx context.Context, userID uuid.UUID, plan domain.Plan) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET plan = $2, updated_at = now() WHERE id = $1`, userID, string(plan))
	if err != nil {
		return fmt.Errorf("failed to set plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// LinkAccount upserts the account for (user, provider).
func (r *AccountRepo) LinkAccount(ctx context.Context, a domain.Account) error {
	enc := a
	if err := r.encryptTokens(&enc); err != nil {
		return err
	}

	var expiresAt *time.Time
	if !a.ExpiresAt.IsZero() {
		expiresAt = &a.ExpiresAt
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, provider, provider_account_id,
		                      oauth_token, oauth_token_secret, access_token, refresh_token, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_account_id = EXCLUDED.provider_account_id,
			oauth_token = EXCLUDED.oauth_token,
			oauth_token_secret = EXCLUDED.oauth_token_secret,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		a.UserID, string(a.Provider), a.ProviderAccountID,
		enc.OAuthToken, enc.OAuthTokenSecret, enc.AccessToken, enc.RefreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to link %s account: %w", a.Provider, err)
	}
	return nil
}

func (r *AccountRepo) encryptTokens(a *domain.Account) error {
	for _, field := range []*string{&a.OAuthToken, &a.OAuthTokenSecret, &a.AccessToken, &a.RefreshToken} {
		enc, err := r.crypto.Encrypt(*field)
		if err != nil {
			return fmt.Errorf("failed to encrypt token: %w", err)
		}
		*field = enc
	}
	return nil
}

func (r *AccountRepo) decryptTokens(a *domain.Account) error {
	for _, field := range []*string{&a.OAuthToken, &a.OAuthTokenSecret, &a.AccessToken, &a.RefreshToken} {
		plain, err := r.crypto.Decrypt(*field)
		if err != nil {
			return fmt.Errorf("failed to decrypt token: %w", err)
		}
		*field = plain
	}
	return nil
}
