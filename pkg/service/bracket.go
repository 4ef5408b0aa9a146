package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/tradepilot/tradepilot/pkg/types"
)

// BracketService is the durable bracket request queue. Requests are
// claimed with a conditional pending -> processing write so a request is
// never processed twice, and lazily expired once past their deadline.
type BracketService struct {
	DB *sqlx.DB
}

func NewBracketService(db *sqlx.DB) *BracketService {
	return &BracketService{DB: db}
}

func (s *BracketService) Enqueue(ctx context.Context, req *types.BracketRequest) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO bracket_requests (
			id,
			pick_id,
			entry_order_id,
			symbol,
			instrument_key,
			direction,
			quantity,
			stop_loss,
			target,
			status,
			enc_credential,
			created_at,
			expires_at,
			updated_at
		) VALUES (
			:id,
			:pick_id,
			:entry_order_id,
			:symbol,
			:instrument_key,
			:direction,
			:quantity,
			:stop_loss,
			:target,
			:status,
			:enc_credential,
			:created_at,
			:expires_at,
			:updated_at
		)`, req)
	return errors.Wrap(err, "enqueue bracket request")
}

// ListPending returns claimable requests: still pending and not yet past
// their deadline.
func (s *BracketService) ListPending(ctx context.Context, now time.Time) ([]types.BracketRequest, error) {
	rows, err := s.DB.NamedQueryContext(ctx, `
		SELECT * FROM bracket_requests
		WHERE status = :status AND expires_at > :now
		ORDER BY created_at ASC`,
		map[string]interface{}{
			"status": types.BracketStatusPending,
			"now":    now,
		})
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var reqs []types.BracketRequest
	for rows.Next() {
		var r types.BracketRequest
		if err := rows.StructScan(&r); err != nil {
			return reqs, err
		}

		reqs = append(reqs, r)
	}

	return reqs, rows.Err()
}

// Claim moves a request pending -> processing. Losing a claim race returns
// ErrBracketClaimed.
func (s *BracketService) Claim(ctx context.Context, id string, now time.Time) error {
	return s.setStatus(ctx, id, types.BracketStatusPending, types.BracketStatusProcessing, now, ErrBracketClaimed)
}

func (s *BracketService) MarkProcessed(ctx context.Context, id string, now time.Time) error {
	return s.setStatus(ctx, id, types.BracketStatusProcessing, types.BracketStatusProcessed, now, ErrBracketNotFound)
}

func (s *BracketService) MarkFailed(ctx context.Context, id string, now time.Time) error {
	return s.setStatus(ctx, id, types.BracketStatusProcessing, types.BracketStatusFailed, now, ErrBracketNotFound)
}

func (s *BracketService) setStatus(ctx context.Context, id string, from, to types.BracketRequestStatus, now time.Time, sentinel error) error {
	result, err := s.DB.NamedExecContext(ctx, `
		UPDATE bracket_requests
		SET status = :to_status, updated_at = :now
		WHERE id = :id AND status = :from_status`,
		map[string]interface{}{
			"to_status":   to,
			"now":         now,
			"id":          id,
			"from_status": from,
		})
	if err != nil {
		return errors.Wrapf(err, "bracket request %s %s -> %s", id, from, to)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return errors.Wrapf(sentinel, "bracket request %s is no longer %s", id, from)
	}

	return nil
}

// ExpirePast marks every overdue pending request expired and reports how
// many were swept.
func (s *BracketService) ExpirePast(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.DB.NamedExecContext(ctx, `
		UPDATE bracket_requests
		SET status = :to_status, updated_at = :now
		WHERE status = :from_status AND expires_at <= :now`,
		map[string]interface{}{
			"to_status":   types.BracketStatusExpired,
			"now":         now,
			"from_status": types.BracketStatusPending,
		})
	if err != nil {
		return 0, errors.Wrap(err, "expire bracket requests")
	}

	return result.RowsAffected()
}
