package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type GrantRepository interface {
	// UpsertCreditGrant records a credit movement. The (user_id, source,
	// source_id) key makes redelivery a no-op; the returned flag reports
	// whether this call inserted the row.
	UpsertCreditGrant(ctx context.Context, g *model.CreditGrant) (bool, error)
	GetGrant(ctx context.Context, userID, source, sourceID string) (*model.CreditGrant, error)
	ListGrants(ctx context.Context, userID string, source *string, limit, offset int) ([]model.CreditGrant, error)
}

type grantRepo struct {
	pool *pgxpool.Pool
}

func NewGrantRepo(pool *pgxpool.Pool) GrantRepository {
	return &grantRepo{pool: pool}
}

func (r *grantRepo) UpsertCreditGrant(ctx context.Context, g *model.CreditGrant) (bool, error) {
	const q = `
        INSERT INTO credit_grants
            (user_id, source, source_id, credits_granted, transaction_id, price_ids, amount,
             currency, checkout_email, invoice_id, invoice_number, purchased_at, event_id, event_type, raw)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        ON CONFLICT (user_id, source, source_id) DO NOTHING
    `
	tag, err := r.pool.Exec(ctx, q,
		g.UserID, g.Source, g.SourceID, g.CreditsGranted, g.TransactionID, g.PriceIDs, g.Amount,
		g.Currency, g.CheckoutEmail, g.InvoiceID, g.InvoiceNumber, g.PurchasedAt, g.EventID, g.EventType, g.Raw)
	if err != nil {
		return false, fmt.Errorf("upsert credit grant %s/%s/%s: %w", g.UserID, g.Source, g.SourceID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *grantRepo) GetGrant(ctx context.Context, userID, source, sourceID string) (*model.CreditGrant, error) {
	const q = `
        SELECT id, user_id, source, source_id, credits_granted, transaction_id, price_ids, amount,
               currency, checkout_email, invoice_id, invoice_number, purchased_at, event_id, event_type, created_at
        FROM credit_grants
        WHERE user_id = $1 AND source = $2 AND source_id = $3
    `
	var g model.CreditGrant
	err := r.pool.QueryRow(ctx, q, userID, source, sourceID).Scan(
		&g.ID, &g.UserID, &g.Source, &g.SourceID, &g.CreditsGranted, &g.TransactionID, &g.PriceIDs,
		&g.Amount, &g.Currency, &g.CheckoutEmail, &g.InvoiceID, &g.InvoiceNumber, &g.PurchasedAt,
		&g.EventID, &g.EventType, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch credit grant %s/%s/%s: %w", userID, source, sourceID, err)
	}
	return &g, nil
}

func (r *grantRepo) ListGrants(ctx context.Context, userID string, source *string, limit, offset int) ([]model.CreditGrant, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const q = `
        SELECT id, user_id, source, source_id, credits_granted, transaction_id, price_ids, amount,
               currency, checkout_email, invoice_id, invoice_number, purchased_at, event_id, event_type, created_at
        FROM credit_grants
        WHERE user_id = $1 AND ($2::text IS NULL OR source = $2)
        ORDER BY purchased_at DESC NULLS LAST, created_at DESC
        LIMIT $3 OFFSET $4
    `
	rows, err := r.pool.Query(ctx, q, userID, source, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list credit grants for user %s: %w", userID, err)
	}
	defer rows.Close()

	var grants []model.CreditGrant
	for rows.Next() {
		var g model.CreditGrant
		if err := rows.Scan(&g.ID, &g.UserID, &g.Source, &g.SourceID, &g.CreditsGranted, &g.TransactionID,
			&g.PriceIDs, &g.Amount, &g.Currency, &g.CheckoutEmail, &g.InvoiceID, &g.InvoiceNumber,
			&g.PurchasedAt, &g.EventID, &g.EventType, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit grants: %w", err)
	}
	return grants, nil
}
