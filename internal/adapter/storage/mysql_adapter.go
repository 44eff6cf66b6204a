package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/order-reconciler/internal/core/domain"
	"github.com/rl1809/order-reconciler/internal/port"
)

//go:embed schema.sql
var schemaSQL string

const orderColumns = `id, status, payment_status, notes, document, created_at, updated_at`

// MySQLAdapter stores each order as a JSON document alongside the columns
// that are queried or updated in place. The columns win over the document
// when an order is read back.
type MySQLAdapter struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db, now: time.Now}
}

// Migrate creates the orders table if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := m.now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	doc, err := json.Marshal(order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("encode order: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, payment_id, gateway_order_id, status, payment_status,
			customer_email, total, document, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.OrderNumber, order.PaymentID, order.Payment.GatewayOrderID,
		string(order.Status), string(order.Payment.Status), order.Customer.Email,
		order.Total.StringFixed(2), doc, order.Notes, order.CreatedAt, order.UpdatedAt,
	)
	if isDuplicatePayment(err) {
		return domain.Order{}, port.ErrDuplicatePayment
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	return order, nil
}

func (m *MySQLAdapter) FindOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Empty() {
		return nil, errors.New("find orders: empty filter")
	}

	var (
		conds []string
		args  []any
	)
	if filter.PaymentID != "" {
		conds = append(conds, "payment_id = ?")
		args = append(args, filter.PaymentID)
	}
	if filter.GatewayOrderID != "" {
		conds = append(conds, "gateway_order_id = ?")
		args = append(args, filter.GatewayOrderID)
	}

	rows, err := m.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE "+strings.Join(conds, " AND ")+" ORDER BY created_at",
		args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	return orders, nil
}

// UpdateOrder applies patch in a single statement. The WHERE clause only
// matches when a state field would change, so a replayed patch affects no
// rows and its note is not appended twice.
func (m *MySQLAdapter) UpdateOrder(ctx context.Context, id string, patch domain.OrderPatch) (bool, error) {
	var (
		sets   []string
		args   []any
		guards []string
		gargs  []any
	)
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
		guards = append(guards, "status <> ?")
		gargs = append(gargs, string(*patch.Status))
	}
	if patch.PaymentStatus != nil {
		sets = append(sets, "payment_status = ?")
		args = append(args, string(*patch.PaymentStatus))
		guards = append(guards, "payment_status <> ?")
		gargs = append(gargs, string(*patch.PaymentStatus))
	}
	if patch.Note != "" {
		sets = append(sets, "notes = IF(notes = '', ?, CONCAT(notes, ?))")
		args = append(args, patch.Note, "\n"+patch.Note)
	}
	if len(sets) == 0 {
		return false, nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, m.now().UTC())

	query := "UPDATE orders SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if len(guards) > 0 {
		query += " AND (" + strings.Join(guards, " OR ") + ")"
		args = append(args, gargs...)
	}

	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		id, status, paymentStatus, notes string
		doc                              []byte
		createdAt, updatedAt             time.Time
	)
	if err := row.Scan(&id, &status, &paymentStatus, &notes, &doc, &createdAt, &updatedAt); err != nil {
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}

	var order domain.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	order.ID = id
	order.Status = domain.OrderStatus(status)
	order.Payment.Status = domain.PaymentStatus(paymentStatus)
	order.Notes = notes
	order.CreatedAt = createdAt
	order.UpdatedAt = updatedAt
	return order, nil
}

// isDuplicatePayment reports a unique key violation on payment_id. A
// collision on order_number is a plain error so the caller does not
// mistake it for a replay.
func isDuplicatePayment(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != 1062 {
		return false
	}
	return !strings.Contains(me.Message, "order_number")
}
