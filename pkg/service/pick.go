package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/tradepilot/tradepilot/pkg/types"
)

// PickService persists picks and drives their status transitions. Every
// transition is a conditional filtered write: the UPDATE only matches when
// the row still holds the status the caller read, so two workers can never
// both move the same pick.
type PickService struct {
	DB *sqlx.DB
}

func NewPickService(db *sqlx.DB) *PickService {
	return &PickService{DB: db}
}

func (s *PickService) Insert(ctx context.Context, pick *types.Pick) error {
	result, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO picks (
			analysis_id,
			symbol,
			instrument_key,
			direction,
			trade_date,
			entry_level,
			stop_level,
			target_level,
			risk_reward,
			status,
			created_at,
			updated_at
		) VALUES (
			:analysis_id,
			:symbol,
			:instrument_key,
			:direction,
			:trade_date,
			:entry_level,
			:stop_level,
			:target_level,
			:risk_reward,
			:status,
			:created_at,
			:updated_at
		)`,
		map[string]interface{}{
			"analysis_id":    pick.AnalysisID,
			"symbol":         pick.Symbol,
			"instrument_key": pick.InstrumentKey,
			"direction":      pick.Direction,
			"trade_date":     pick.TradeDate,
			"entry_level":    pick.Entry,
			"stop_level":     pick.Stop,
			"target_level":   pick.Target,
			"risk_reward":    pick.RiskReward,
			"status":         pick.Status,
			"created_at":     pick.CreatedAt,
			"updated_at":     pick.UpdatedAt,
		})
	if err != nil {
		return errors.Wrap(err, "insert pick")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "pick insert id")
	}

	pick.ID = uint64(id)
	return nil
}

func (s *PickService) Load(ctx context.Context, id uint64) (*types.Pick, error) {
	var pick types.Pick

	rows, err := s.DB.NamedQueryContext(ctx, "SELECT * FROM picks WHERE id = :id", map[string]interface{}{
		"id": id,
	})
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	if rows.Next() {
		err = rows.StructScan(&pick)
		return &pick, err
	}

	return nil, errors.Wrapf(ErrPickNotFound, "pick id:%d not found", id)
}

// ListByStatus returns the trade date's picks currently in the given
// status, oldest first.
func (s *PickService) ListByStatus(ctx context.Context, tradeDate string, status types.PickStatus) ([]types.Pick, error) {
	rows, err := s.DB.NamedQueryContext(ctx, `
		SELECT * FROM picks
		WHERE trade_date = :trade_date AND status = :status
		ORDER BY id ASC`,
		map[string]interface{}{
			"trade_date": tradeDate,
			"status":     status,
		})
	if err != nil {
		return nil, err
	}

	defer rows.Close()
	return s.scanRows(rows)
}

func (s *PickService) scanRows(rows *sqlx.Rows) (picks []types.Pick, err error) {
	for rows.Next() {
		var p types.Pick
		if err := rows.StructScan(&p); err != nil {
			return picks, err
		}

		picks = append(picks, p)
	}

	return picks, rows.Err()
}

// Transition writes the pick's mutable fields, guarded on the status the
// caller observed. A write that matches no row returns ErrStaleTransition.
func (s *PickService) Transition(ctx context.Context, pick *types.Pick, from types.PickStatus) error {
	result, err := s.DB.NamedExecContext(ctx, `
		UPDATE picks SET
			status          = :status,
			quantity        = :quantity,
			entry_price     = :entry_price,
			exit_price      = :exit_price,
			exit_reason     = :exit_reason,
			pnl             = :pnl,
			return_pct      = :return_pct,
			target_level    = :target_level,
			stop_level      = :stop_level,
			entry_order_id  = :entry_order_id,
			stop_order_id   = :stop_order_id,
			target_order_id = :target_order_id,
			updated_at      = :updated_at
		WHERE id = :id AND status = :from_status`,
		map[string]interface{}{
			"status":          pick.Status,
			"quantity":        pick.Quantity,
			"entry_price":     pick.EntryPrice,
			"exit_price":      pick.ExitPrice,
			"exit_reason":     pick.ExitReason,
			"pnl":             pick.PnL,
			"return_pct":      pick.ReturnPct,
			"target_level":    pick.Target,
			"stop_level":      pick.Stop,
			"entry_order_id":  pick.EntryOrderID,
			"stop_order_id":   pick.StopOrderID,
			"target_order_id": pick.TargetOrderID,
			"updated_at":      pick.UpdatedAt,
			"id":              pick.ID,
			"from_status":     from,
		})
	if err != nil {
		return errors.Wrapf(err, "transition pick %d %s -> %s", pick.ID, from, pick.Status)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "transition rows affected")
	}

	if affected == 0 {
		return errors.Wrapf(ErrStaleTransition, "pick %d is no longer %s", pick.ID, from)
	}

	return nil
}

// Heartbeat bumps updated_at on a still-active pick so operators can spot
// stalled monitoring from the table alone.
func (s *PickService) Heartbeat(ctx context.Context, id uint64, at time.Time) error {
	result, err := s.DB.ExecContext(ctx, `
		UPDATE picks SET updated_at = ?
		WHERE id = ? AND status IN ('ORDER_PLACED', 'ENTERED')`,
		at, id)
	if err != nil {
		return errors.Wrapf(err, "heartbeat pick %d", id)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "heartbeat rows affected")
	}

	if affected == 0 {
		return errors.Wrapf(ErrStaleTransition, "pick %d is not active", id)
	}

	return nil
}
