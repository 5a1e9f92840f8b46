package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BillingRepository interface {
	// RecordBillingEvent inserts the event row. It reports false without error
	// when the event id was already recorded.
	RecordBillingEvent(ctx context.Context, ev *model.BillingEvent) (bool, error)
	DeleteBillingEvent(ctx context.Context, eventID string) error
	GetPlansByPriceIDs(ctx context.Context, priceIDs []string) ([]model.BillingPlan, error)
	// AddCredits atomically adds to the user's credit balance.
	AddCredits(ctx context.Context, userID string, credits int64) error
	// GetBalance returns the user's current credit balance, zero when no row
	// exists yet.
	GetBalance(ctx context.Context, userID string) (int64, error)
}

type billingRepo struct {
	pool *pgxpool.Pool
}

func NewBillingRepo(pool *pgxpool.Pool) BillingRepository {
	return &billingRepo{pool: pool}
}

func (r *billingRepo) RecordBillingEvent(ctx context.Context, ev *model.BillingEvent) (bool, error) {
	const q = `
        INSERT INTO billing_events (event_id, user_id, event_type, transaction_id, price_ids, credits_granted, raw)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := r.pool.Exec(ctx, q,
		ev.EventID, ev.UserID, ev.EventType, ev.TransactionID, ev.PriceIDs, ev.CreditsGranted, ev.Raw)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("record billing event %s: %w", ev.EventID, err)
	}
	return true, nil
}

func (r *billingRepo) DeleteBillingEvent(ctx context.Context, eventID string) error {
	const q = `DELETE FROM billing_events WHERE event_id = $1`
	if _, err := r.pool.Exec(ctx, q, eventID); err != nil {
		return fmt.Errorf("delete billing event %s: %w", eventID, err)
	}
	return nil
}

func (r *billingRepo) GetPlansByPriceIDs(ctx context.Context, priceIDs []string) ([]model.BillingPlan, error) {
	const q = `
        SELECT paddle_price_id, paddle_product_id, plan_key, plan_name, credits, amount, currency, status
        FROM billing_plans
        WHERE paddle_price_id = ANY($1)
    `
	rows, err := r.pool.Query(ctx, q, priceIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch billing plans: %w", err)
	}
	defer rows.Close()

	var plans []model.BillingPlan
	for rows.Next() {
		var p model.BillingPlan
		if err := rows.Scan(&p.PaddlePriceID, &p.PaddleProductID, &p.PlanKey, &p.PlanName,
			&p.Credits, &p.Amount, &p.Currency, &p.Status); err != nil {
			return nil, fmt.Errorf("scan billing plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate billing plans: %w", err)
	}
	return plans, nil
}

func (r *billingRepo) GetBalance(ctx context.Context, userID string) (int64, error) {
	const q = `SELECT balance FROM user_credits WHERE user_id = $1`
	var balance int64
	if err := r.pool.QueryRow(ctx, q, userID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("fetch balance for user %s: %w", userID, err)
	}
	return balance, nil
}

func (r *billingRepo) AddCredits(ctx context.Context, userID string, credits int64) error {
	const q = `
        INSERT INTO user_credits (user_id, balance)
        VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET balance = user_credits.balance + EXCLUDED.balance
    `
	if _, err := r.pool.Exec(ctx, q, userID, credits); err != nil {
		return fmt.Errorf("add %d credits for user %s: %w", credits, userID, err)
	}
	return nil
}
