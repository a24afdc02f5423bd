// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"quotagate/internal/common/config"
	"quotagate/internal/common/database"
	stderrors "quotagate/internal/common/errors"
	"quotagate/internal/common/logger"
)

const pqUniqueViolation = "23505"

// PostgresStore is the relational persistence backend. Every write runs in a
// transaction that rolls back on error; pooled connections are released on
// every exit path.
type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
}

// NewPostgresStore connects with a bounded pool, verifies the connection and
// runs idempotent schema setup. Any failure here triggers the one-time
// failover to the file backend in Open.
func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig, log logger.Logger) (*PostgresStore, error) {
	client, err := database.NewPostgres(cfg)
	if err != nil {
		return nil, err
	}

	s := &PostgresStore{db: client.DB, logger: log}

	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	if err := s.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("schema setup failed: %w", err)
	}

	return s, nil
}

// NewPostgresStoreFromDB wraps an existing connection without running schema
// setup. Used by tests with a mocked database.
func NewPostgresStoreFromDB(db *sql.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: log}
}

// initSchema creates tables, applies additive-only migrations and upserts the
// built-in plan rows. All statements are create-if-absent so the setup is
// safe to run on every start.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id SERIAL PRIMARY KEY,
			plan_name VARCHAR(50) UNIQUE NOT NULL,
			max_tokens INTEGER,
			price DECIMAL(10, 2) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`ALTER TABLE plans ADD COLUMN IF NOT EXISTS chat_max_requests INTEGER`,
		`ALTER TABLE plans ADD COLUMN IF NOT EXISTS vision_max_requests INTEGER`,
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			user_id BIGINT UNIQUE NOT NULL,
			profile_link VARCHAR(255),
			full_name VARCHAR(255),
			phone_number VARCHAR(20),
			plan VARCHAR(50) DEFAULT 'free',
			plan_start TIMESTAMP,
			plan_end TIMESTAMP,
			tokens_used INTEGER DEFAULT 0,
			tokens_remaining INTEGER DEFAULT 15000,
			chat_requests_count INTEGER DEFAULT 0,
			last_activity TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		// Columns added after the first release; older rows pick up the
		// defaults implicitly on first read.
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS vision_requests_count INTEGER DEFAULT 0`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS purchased_vision_requests INTEGER DEFAULT 0`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS admin_unlimited BOOLEAN DEFAULT FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_users_user_id ON users(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_plan ON users(plan)`,
		`CREATE INDEX IF NOT EXISTS idx_users_last_activity ON users(last_activity)`,
		`INSERT INTO plans (plan_name, max_tokens, chat_max_requests, vision_max_requests, price)
		VALUES
			('free', NULL, 5, 2, 0.00),
			('lite', 250000, NULL, 10, 149.00),
			('premium', 1000000, NULL, 50, 299.00)
		ON CONFLICT (plan_name) DO UPDATE SET
			max_tokens = EXCLUDED.max_tokens,
			chat_max_requests = EXCLUDED.chat_max_requests,
			vision_max_requests = EXCLUDED.vision_max_requests,
			price = EXCLUDED.price,
			updated_at = CURRENT_TIMESTAMP`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const userColumns = `user_id, plan, plan_start, plan_end, tokens_used, tokens_remaining,
	chat_requests_count, vision_requests_count, purchased_vision_requests,
	admin_unlimited, full_name, profile_link, phone_number, last_activity, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUser applies defaulting once, at the store boundary: nullable columns
// land as zero values on the typed record.
func scanUser(row rowScanner) (*UserRecord, error) {
	var (
		rec                     UserRecord
		plan                    sql.NullString
		planStart, planEnd      sql.NullTime
		tokensUsed, tokensLeft  sql.NullInt64
		chatReqs, visionReqs    sql.NullInt64
		purchased               sql.NullInt64
		adminUnlimited          sql.NullBool
		fullName, link, phone   sql.NullString
		lastActivity, createdAt sql.NullTime
	)

	err := row.Scan(
		&rec.UserID, &plan, &planStart, &planEnd, &tokensUsed, &tokensLeft,
		&chatReqs, &visionReqs, &purchased,
		&adminUnlimited, &fullName, &link, &phone, &lastActivity, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Plan = PlanFree
	if plan.Valid && plan.String != "" {
		rec.Plan = plan.String
	}
	if planStart.Valid {
		rec.PlanStart = timePtr(planStart.Time)
	}
	if planEnd.Valid {
		rec.PlanEnd = timePtr(planEnd.Time)
	}
	rec.TokensUsed = int(tokensUsed.Int64)
	rec.TokensRemaining = int(tokensLeft.Int64)
	rec.ChatRequests = int(chatReqs.Int64)
	rec.VisionRequests = int(visionReqs.Int64)
	rec.PurchasedVisionRequests = int(purchased.Int64)
	rec.AdminUnlimited = adminUnlimited.Bool
	rec.FullName = fullName.String
	rec.ProfileLink = link.String
	rec.Phone = phone.String
	if lastActivity.Valid {
		rec.LastActivity = lastActivity.Time
	}
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time
	}

	return &rec, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (*UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	rec, err := scanUser(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, stderrors.NewStorageUnavailableError(err)
	}
	return rec, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, userID int64) (*UserRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, stderrors.NewStorageUnavailableError(err)
	}
	defer tx.Rollback()

	query := `INSERT INTO users (user_id, plan, tokens_remaining, chat_requests_count, vision_requests_count, last_activity)
		VALUES ($1, 'free', $2, 0, 0, CURRENT_TIMESTAMP)
		RETURNING ` + userColumns

	rec, err := scanUser(tx.QueryRowContext(ctx, query, userID, DefaultFreeTokens))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			// Duplicate-create race: another caller won, use their row.
			s.logger.Warn("duplicate user create, re-reading", map[string]interface{}{
				"userId": userID,
			})
			existing, getErr := s.GetUser(ctx, userID)
			if getErr != nil {
				return nil, getErr
			}
			if existing == nil {
				return nil, stderrors.NewDuplicateUserError(userID)
			}
			return existing, nil
		}
		return nil, stderrors.NewStorageUnavailableError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, stderrors.NewStorageUnavailableError(err)
	}

	s.logger.Info("user record created", map[string]interface{}{"userId": userID})
	return rec, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, userID int64, upd UserUpdate) error {
	fields := make([]string, 0, 12)
	values := make([]interface{}, 0, 12)

	add := func(column string, value interface{}) {
		fields = append(fields, fmt.Sprintf("%s = $%d", column, len(values)+1))
		values = append(values, value)
	}

	if upd.Plan != nil {
		add("plan", *upd.Plan)
	}
	if upd.ClearPlanDates {
		fields = append(fields, "plan_start = NULL", "plan_end = NULL")
	} else {
		if upd.PlanStart != nil {
			add("plan_start", *upd.PlanStart)
		}
		if upd.PlanEnd != nil {
			add("plan_end", *upd.PlanEnd)
		}
	}
	if upd.TokensUsed != nil {
		add("tokens_used", *upd.TokensUsed)
	}
	if upd.TokensRemaining != nil {
		add("tokens_remaining", *upd.TokensRemaining)
	}
	if upd.ChatRequests != nil {
		add("chat_requests_count", *upd.ChatRequests)
	}
	if upd.VisionRequests != nil {
		add("vision_requests_count", *upd.VisionRequests)
	}
	if upd.PurchasedVisionRequests != nil {
		add("purchased_vision_requests", *upd.PurchasedVisionRequests)
	}
	if upd.AdminUnlimited != nil {
		add("admin_unlimited", *upd.AdminUnlimited)
	}
	if upd.FullName != nil {
		add("full_name", *upd.FullName)
	}
	if upd.ProfileLink != nil {
		add("profile_link", *upd.ProfileLink)
	}
	if upd.Phone != nil {
		add("phone_number", *upd.Phone)
	}

	if len(fields) == 0 {
		return nil
	}

	// Every mutation refreshes last_activity.
	fields = append(fields, "last_activity = CURRENT_TIMESTAMP")
	values = append(values, userID)

	query := fmt.Sprintf("UPDATE users SET %s WHERE user_id = $%d",
		strings.Join(fields, ", "), len(values))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewStorageUnavailableError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, values...); err != nil {
		return stderrors.NewStorageUnavailableError(err)
	}

	if err := tx.Commit(); err != nil {
		return stderrors.NewStorageUnavailableError(err)
	}
	return nil
}

func (s *PostgresStore) Plans(ctx context.Context) (map[string]Plan, error) {
	query := `SELECT plan_name, max_tokens, chat_max_requests, vision_max_requests, price FROM plans`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, stderrors.NewStorageUnavailableError(err)
	}
	defer rows.Close()

	plans := make(map[string]Plan)
	for rows.Next() {
		var (
			p         Plan
			maxTokens sql.NullInt64
			chatMax   sql.NullInt64
			visionMax sql.NullInt64
		)
		if err := rows.Scan(&p.Name, &maxTokens, &chatMax, &visionMax, &p.Price); err != nil {
			return nil, stderrors.NewStorageUnavailableError(err)
		}
		if maxTokens.Valid {
			p.MaxTokens = intPtr(int(maxTokens.Int64))
		}
		if chatMax.Valid {
			p.ChatMaxRequests = intPtr(int(chatMax.Int64))
		}
		p.VisionMax = int(visionMax.Int64)
		plans[p.Name] = p
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewStorageUnavailableError(err)
	}

	return plans, nil
}

func (s *PostgresStore) AddPurchasedTokens(ctx context.Context, userID int64, amount int) error {
	return s.increment(ctx, userID,
		`UPDATE users SET tokens_remaining = COALESCE(tokens_remaining, 0) + $1,
			last_activity = CURRENT_TIMESTAMP WHERE user_id = $2`, amount)
}

func (s *PostgresStore) AddPurchasedVisionRequests(ctx context.Context, userID int64, amount int) error {
	return s.increment(ctx, userID,
		`UPDATE users SET purchased_vision_requests = COALESCE(purchased_vision_requests, 0) + $1,
			last_activity = CURRENT_TIMESTAMP WHERE user_id = $2`, amount)
}

func (s *PostgresStore) increment(ctx context.Context, userID int64, query string, amount int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewStorageUnavailableError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, amount, userID); err != nil {
		return stderrors.NewStorageUnavailableError(err)
	}

	if err := tx.Commit(); err != nil {
		return stderrors.NewStorageUnavailableError(err)
	}
	return nil
}

// UpdateProfile stores best-effort metadata; empty values are skipped.
func (s *PostgresStore) UpdateProfile(ctx context.Context, userID int64, fullName, profileLink, phone string) error {
	var upd UserUpdate
	if fullName != "" {
		upd.FullName = strPtr(fullName)
	}
	if profileLink != "" {
		upd.ProfileLink = strPtr(profileLink)
	}
	if phone != "" {
		upd.Phone = strPtr(phone)
	}
	if upd.IsEmpty() {
		return nil
	}
	return s.UpdateUser(ctx, userID, upd)
}

func (s *PostgresStore) Backend() Backend {
	return BackendPostgres
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
