// Package orderstore is the persistent record of orders (master and
// follower), their lineage, status transitions, and broker identifiers.
//
// The repository follows this codebase's column-constant-query style:
// scanX helpers, nullString/nullFloat64Ptr helpers, existence-check-
// before-create, generalized here into optimistic status-revision writes
// (StaleTransition) for concurrent status updates.
package orderstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/replerr"
	"github.com/aristath/sentinel/internal/utils"
)

const ordersColumns = `id, owner_account, strategy_id, parent_id, side, order_type, symbol, exchange,
	quantity, limit_price, trigger_price, product_type, time_in_force, status, status_revision,
	broker_order_id, broker_exchange_id, last_message, created_at, submitted_at, terminal_at`

// Store implements domain.OrderStore.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// New builds an Order Store over the ledger database's connection.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "order_store").Logger()}
}

// Create inserts draft, assigning it a fresh id if unset. The Order Store
// MUST be safe for concurrent writers: fan-out creates one parent-
// referencing row per follower simultaneously, each with a distinct id, so
// no existence check races.
func (s *Store) Create(ctx context.Context, draft *domain.Order) (*domain.Order, error) {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}
	if draft.Status == "" {
		draft.Status = domain.StatusPending
	}

	query := fmt.Sprintf(`INSERT INTO orders (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, ordersColumns)
	done := utils.MeasureDBQuery("orders.create", s.log)
	result, err := s.db.ExecContext(ctx, query,
		draft.ID, draft.OwnerAccount, nullString(draft.StrategyID), nullString(draft.ParentID),
		string(draft.Side), string(draft.Type), draft.Symbol, draft.Exchange,
		draft.Quantity, nullFloat64(draft.LimitPrice), nullFloat64(draft.TriggerPrice),
		string(draft.ProductType), string(draft.TimeInForce), string(draft.Status), draft.StatusRevision,
		nullString(draft.BrokerOrderID), nullString(draft.BrokerExchangeID), nullString(draft.LastMessage),
		draft.CreatedAt.Unix(), nullTime(draft.SubmittedAt), nullTime(draft.TerminalAt),
	)
	if err != nil {
		done(0)
		return nil, fmt.Errorf("create order %s: %w", draft.ID, err)
	}
	rows, _ := result.RowsAffected()
	done(rows)
	return draft, nil
}

// AppendStatus atomically transitions orderID to next, refusing
// non-monotonic transitions with StaleTransitionError, which the caller
// discards. The write is conditional on the row's current status_revision,
// the optimistic-concurrency mechanism guarding against a stale reconciler
// update racing a fresher dispatcher write.
func (s *Store) AppendStatus(ctx context.Context, orderID string, next domain.OrderStatus, brokerOrderID, brokerExchangeID, message *string) (*domain.Order, error) {
	current, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !current.Status.CanTransitionTo(next) {
		return nil, &replerr.StaleTransitionError{
			OrderID:           orderID,
			CurrentRevision:   current.StatusRevision,
			AttemptedRevision: current.StatusRevision + 1,
		}
	}

	now := time.Now()
	var submittedAt, terminalAt sql.NullInt64
	if current.SubmittedAt != nil {
		submittedAt = sql.NullInt64{Int64: current.SubmittedAt.Unix(), Valid: true}
	}
	if next == domain.StatusSubmitted {
		submittedAt = sql.NullInt64{Int64: now.Unix(), Valid: true}
	}
	if next.IsTerminal() {
		terminalAt = sql.NullInt64{Int64: now.Unix(), Valid: true}
	}

	query := `UPDATE orders SET status = ?, status_revision = status_revision + 1,
		broker_order_id = COALESCE(?, broker_order_id),
		broker_exchange_id = COALESCE(?, broker_exchange_id),
		last_message = COALESCE(?, last_message),
		submitted_at = ?, terminal_at = ?
		WHERE id = ? AND status_revision = ?`

	done := utils.MeasureDBQuery("orders.append_status", s.log)
	result, err := s.db.ExecContext(ctx, query,
		string(next), nullString(brokerOrderID), nullString(brokerExchangeID), nullString(message),
		submittedAt, terminalAt, orderID, current.StatusRevision,
	)
	if err != nil {
		done(0)
		return nil, fmt.Errorf("append status for order %s: %w", orderID, err)
	}
	rows, err := result.RowsAffected()
	done(rows)
	if err != nil {
		return nil, fmt.Errorf("append status for order %s: %w", orderID, err)
	}
	if rows == 0 {
		return nil, &replerr.StaleTransitionError{
			OrderID:           orderID,
			CurrentRevision:   current.StatusRevision,
			AttemptedRevision: current.StatusRevision + 1,
		}
	}

	return s.Get(ctx, orderID)
}

// Get returns the order identified by orderID.
func (s *Store) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = ?`, ordersColumns)
	row := s.db.QueryRowContext(ctx, query, orderID)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return order, nil
}

// ListByParent returns every follower order created for parentID.
func (s *Store) ListByParent(ctx context.Context, parentID string) ([]*domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE parent_id = ? ORDER BY created_at`, ordersColumns)
	rows, err := s.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("list orders by parent %s: %w", parentID, err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrderFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order for parent %s: %w", parentID, err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// ListUnknown returns every order left in Unknown status, the set the
// background reconciler polls the broker adapter to resolve.
func (s *Store) ListUnknown(ctx context.Context) ([]*domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE status = ? ORDER BY created_at`, ordersColumns)
	rows, err := s.db.QueryContext(ctx, query, string(domain.StatusUnknown))
	if err != nil {
		return nil, fmt.Errorf("list unknown orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrderFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unknown order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	return scanOrderFromRows(row)
}

func scanOrderFromRows(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var strategyID, parentID, brokerOrderID, brokerExchangeID, lastMessage sql.NullString
	var limitPrice, triggerPrice sql.NullFloat64
	var createdAt int64
	var submittedAt, terminalAt sql.NullInt64
	var side, orderType, productType, tif, status string

	err := row.Scan(&o.ID, &o.OwnerAccount, &strategyID, &parentID, &side, &orderType, &o.Symbol, &o.Exchange,
		&o.Quantity, &limitPrice, &triggerPrice, &productType, &tif, &status, &o.StatusRevision,
		&brokerOrderID, &brokerExchangeID, &lastMessage, &createdAt, &submittedAt, &terminalAt)
	if err != nil {
		return nil, err
	}

	o.Side = domain.Side(side)
	o.Type = domain.OrderType(orderType)
	o.ProductType = domain.ProductType(productType)
	o.TimeInForce = domain.TimeInForce(tif)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.Unix(createdAt, 0)
	o.StrategyID = stringPtr(strategyID)
	o.ParentID = stringPtr(parentID)
	o.BrokerOrderID = stringPtr(brokerOrderID)
	o.BrokerExchangeID = stringPtr(brokerExchangeID)
	o.LastMessage = stringPtr(lastMessage)
	o.LimitPrice = float64Ptr(limitPrice)
	o.TriggerPrice = float64Ptr(triggerPrice)
	if submittedAt.Valid {
		t := time.Unix(submittedAt.Int64, 0)
		o.SubmittedAt = &t
	}
	if terminalAt.Valid {
		t := time.Unix(terminalAt.Int64, 0)
		o.TerminalAt = &t
	}

	return &o, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func float64Ptr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	return &nf.Float64
}
