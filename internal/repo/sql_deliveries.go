package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/LeventeLantos/flight-sms/internal/model"
)

type SQLDeliveryRepo struct {
	db  *sqlx.DB
	now func() time.Time

	// storeNow is the SQL expression that stamps processed_at.
	storeNow string

	onCreate func(ctx context.Context, d model.Delivery)
}

func NewSQLDeliveryRepo(db *sqlx.DB) *SQLDeliveryRepo {
	return &SQLDeliveryRepo{
		db:       db,
		now:      func() time.Time { return time.Now().UTC() },
		storeNow: storeNowExpr(db.DriverName()),
	}
}

func storeNowExpr(driver string) string {
	if driver == "sqlite3" {
		return `strftime('%Y-%m-%d %H:%M:%f', 'now')`
	}
	return `now()`
}

// WithCreateHook registers fn to run after every successful Create. It is
// how the in-process trigger learns about new deliveries.
func (r *SQLDeliveryRepo) WithCreateHook(fn func(ctx context.Context, d model.Delivery)) *SQLDeliveryRepo {
	r.onCreate = fn
	return r
}

// WithClock sets the clock used for created_at. processed_at always comes
// from the store.
func (r *SQLDeliveryRepo) WithClock(now func() time.Time) *SQLDeliveryRepo {
	r.now = now
	return r
}

func (r *SQLDeliveryRepo) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type deliveryRow struct {
	ID               string         `db:"id"`
	Phone            string         `db:"phone"`
	Message          string         `db:"message"`
	Sender           string         `db:"sender"`
	Status           string         `db:"status"`
	MessageID        sql.NullString `db:"message_id"`
	Error            sql.NullString `db:"error"`
	ProviderResponse sql.NullString `db:"provider_response"`
	CreatedAt        time.Time      `db:"created_at"`
	ProcessedAt      sql.NullTime   `db:"processed_at"`
}

const deliveryColumns = `id, phone, message, sender, status, message_id, error,
	provider_response, created_at, processed_at`

func (row deliveryRow) toModel() model.Delivery {
	d := model.Delivery{
		ID:        row.ID,
		Phone:     row.Phone,
		Message:   row.Message,
		Sender:    row.Sender,
		Status:    model.Status(row.Status),
		CreatedAt: row.CreatedAt.UTC(),
	}
	if row.MessageID.Valid {
		s := row.MessageID.String
		d.MessageID = &s
	}
	if row.Error.Valid {
		s := row.Error.String
		d.Error = &s
	}
	if row.ProviderResponse.Valid && row.ProviderResponse.String != "" {
		d.ProviderResponse = json.RawMessage(row.ProviderResponse.String)
	}
	if row.ProcessedAt.Valid {
		t := row.ProcessedAt.Time.UTC()
		d.ProcessedAt = &t
	}
	return d
}

func (r *SQLDeliveryRepo) Create(ctx context.Context, in model.NewDelivery) (model.Delivery, error) {
	d := model.Delivery{
		ID:        uuid.NewString(),
		Phone:     in.Phone,
		Message:   in.Message,
		Sender:    strings.TrimSpace(in.Sender),
		Status:    model.Pending,
		CreatedAt: r.now(),
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO deliveries (id, phone, message, sender, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), d.ID, d.Phone, d.Message, d.Sender, string(d.Status), d.CreatedAt)
	if err != nil {
		return model.Delivery{}, fmt.Errorf("insert delivery: %w", err)
	}

	if r.onCreate != nil {
		r.onCreate(ctx, d)
	}
	return d, nil
}

func (r *SQLDeliveryRepo) Get(ctx context.Context, id string) (model.Delivery, error) {
	var row deliveryRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE id = ?
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Delivery{}, ErrNotFound
		}
		return model.Delivery{}, err
	}
	return row.toModel(), nil
}

func (r *SQLDeliveryRepo) ListPending(ctx context.Context, limit int) ([]model.Delivery, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	var rows []deliveryRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`), string(model.Pending), limit)
	if err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

func (r *SQLDeliveryRepo) ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rows []deliveryRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE status = ?
		ORDER BY COALESCE(processed_at, created_at) DESC, id
		LIMIT ? OFFSET ?
	`), string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

func (r *SQLDeliveryRepo) MarkSent(ctx context.Context, id, messageID string, raw json.RawMessage) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE deliveries
		SET status = ?,
		    message_id = ?,
		    provider_response = ?,
		    error = NULL,
		    processed_at = `+r.storeNow+`
		WHERE id = ? AND status = ?
	`), string(model.Sent), messageID, string(raw), id, string(model.Pending))
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *SQLDeliveryRepo) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE deliveries
		SET status = ?,
		    error = ?,
		    processed_at = `+r.storeNow+`
		WHERE id = ? AND status = ?
	`), string(model.Failed), reason, id, string(model.Pending))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// checkTransition tells a lost compare-and-swap apart from a missing row.
func (r *SQLDeliveryRepo) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var status string
	err = r.db.GetContext(ctx, &status, r.db.Rebind(`SELECT status FROM deliveries WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: status is %s", ErrNotPending, status)
}

func toModels(rows []deliveryRow) []model.Delivery {
	out := make([]model.Delivery, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out
}
