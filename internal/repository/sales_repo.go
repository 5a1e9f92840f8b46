package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE raised on a unique-constraint conflict.
const uniqueViolation = "23505"

type SalesRepository interface {
	// InsertContactRequest attempts the insert and, on a unique violation over
	// (user_id, idempotency_key), recovers the existing row's id. The returned
	// flag reports whether the request deduplicated against a prior row.
	InsertContactRequest(ctx context.Context, req *model.SalesContactRequest) (string, bool, error)
}

type salesRepo struct {
	pool *pgxpool.Pool
}

func NewSalesRepo(pool *pgxpool.Pool) SalesRepository {
	return &salesRepo{pool: pool}
}

func (r *salesRepo) InsertContactRequest(ctx context.Context, req *model.SalesContactRequest) (string, bool, error) {
	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return "", false, fmt.Errorf("marshal contact request metadata: %w", err)
	}

	const q = `
        INSERT INTO sales_contact_requests
            (request_id, user_id, account_email, source, plan, quantity, contact_required,
             page, request_ip, user_agent, idempotency_key, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `
	_, err = r.pool.Exec(ctx, q,
		req.RequestID, req.UserID, req.AccountEmail, req.Source, req.Plan, req.Quantity,
		req.ContactRequired, req.Page, req.RequestIP, req.UserAgent, req.IdempotencyKey, metadata)
	if err == nil {
		return req.RequestID, false, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return "", false, fmt.Errorf("insert contact request: %w", err)
	}

	// Recover the winner's id under the same unique key. If the row vanished in
	// a race with a delete, fall back to the tentative id we computed.
	const lookup = `
        SELECT request_id FROM sales_contact_requests
        WHERE user_id = $1 AND idempotency_key = $2
        LIMIT 1
    `
	var existing string
	err = r.pool.QueryRow(ctx, lookup, req.UserID, req.IdempotencyKey).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return req.RequestID, true, nil
		}
		return "", false, fmt.Errorf("lookup deduplicated contact request: %w", err)
	}
	return existing, true, nil
}
