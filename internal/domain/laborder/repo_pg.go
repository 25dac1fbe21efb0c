package laborder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/db"
)

// =========== TestRequest Repository ===========

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository {
	return &requestRepoPG{pool: pool}
}

func (r *requestRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const requestCols = `id, patient_id, submitted_by, purpose, preferred_date, status,
	staff_remarks, reviewed_by, reviewed_at, created_at, updated_at`

func scanRequest(row pgx.Row) (*TestRequest, error) {
	var tr TestRequest
	err := row.Scan(&tr.ID, &tr.PatientID, &tr.SubmittedBy, &tr.Purpose, &tr.PreferredDate, &tr.Status,
		&tr.StaffRemarks, &tr.ReviewedBy, &tr.ReviewedAt, &tr.CreatedAt, &tr.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func (r *requestRepoPG) Create(ctx context.Context, tr *TestRequest) error {
	tr.ID = uuid.New()
	c := r.conn(ctx)
	err := c.QueryRow(ctx, `
		INSERT INTO test_request (id, patient_id, submitted_by, purpose, preferred_date, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		tr.ID, tr.PatientID, tr.SubmittedBy, tr.Purpose, tr.PreferredDate, tr.Status,
	).Scan(&tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i := range tr.Items {
		it := &tr.Items[i]
		it.ID = uuid.New()
		it.TestRequestID = tr.ID
		it.CreatedAt = tr.CreatedAt
		batch.Queue(`INSERT INTO test_request_item (id, test_request_id, test_id, created_at) VALUES ($1,$2,$3,$4)`,
			it.ID, it.TestRequestID, it.TestID, it.CreatedAt)
	}
	return sendBatch(ctx, c, batch)
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	tr, err := scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM test_request WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*TestRequest{tr}); err != nil {
		return nil, err
	}
	return tr, nil
}

func (r *requestRepoPG) List(ctx context.Context, status string, limit, offset int) ([]*TestRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_request WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+requestCols+` FROM test_request
		WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TestRequest
	for rows.Next() {
		tr, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.loadItems(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *requestRepoPG) loadItems(ctx context.Context, reqs []*TestRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(reqs))
	byID := make(map[uuid.UUID]*TestRequest, len(reqs))
	for i, tr := range reqs {
		ids[i] = tr.ID
		byID[tr.ID] = tr
		tr.Items = []TestRequestItem{}
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, test_request_id, test_id, created_at FROM test_request_item
		WHERE test_request_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it TestRequestItem
		if err := rows.Scan(&it.ID, &it.TestRequestID, &it.TestID, &it.CreatedAt); err != nil {
			return err
		}
		tr := byID[it.TestRequestID]
		tr.Items = append(tr.Items, it)
	}
	return rows.Err()
}

func (r *requestRepoPG) Review(ctx context.Context, id uuid.UUID, status string, reviewer uuid.UUID, at time.Time, remarks *string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_request SET status=$2, reviewed_by=$3, reviewed_at=$4,
			staff_remarks=COALESCE($5, staff_remarks), updated_at=NOW()
		WHERE id = $1 AND status = 'PENDING'`, id, status, reviewer, at, remarks)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *requestRepoPG) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_request SET status='CANCELLED', updated_at=NOW()
		WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// =========== LabTestOrder Repository ===========

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *orderRepoPG) CreateOrder(ctx context.Context, o *LabTestOrder) error {
	o.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_test_order (id, patient_id, physician_id, order_date, status, remarks)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		o.ID, o.PatientID, o.PhysicianID, o.OrderDate, o.Status, o.Remarks,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *orderRepoPG) CreateOrderTests(ctx context.Context, tests []*OrderTest) error {
	if len(tests) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, ot := range tests {
		ot.ID = uuid.New()
		ot.CreatedAt, ot.UpdatedAt = now, now
		batch.Queue(`INSERT INTO order_test (id, lab_test_order_id, test_id, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$5)`, ot.ID, ot.LabTestOrderID, ot.TestID, ot.Status, now)
	}
	return sendBatch(ctx, r.conn(ctx), batch)
}

func (r *orderRepoPG) GetOrder(ctx context.Context, id uuid.UUID) (*LabTestOrder, error) {
	var o LabTestOrder
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, physician_id, order_date, status, remarks, created_at, updated_at
		FROM lab_test_order WHERE id = $1`, id).Scan(
		&o.ID, &o.PatientID, &o.PhysicianID, &o.OrderDate, &o.Status, &o.Remarks, &o.CreatedAt, &o.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+orderTestCols+` FROM order_test
		WHERE lab_test_order_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	o.Tests = []OrderTest{}
	for rows.Next() {
		ot, err := scanOrderTest(rows)
		if err != nil {
			return nil, err
		}
		o.Tests = append(o.Tests, *ot)
	}
	return &o, rows.Err()
}

func (r *orderRepoPG) LockOrder(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := r.conn(ctx).QueryRow(ctx, `SELECT status FROM lab_test_order WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if db.IsNoRows(err) {
		return "", ErrNotFound
	}
	return status, err
}

func (r *orderRepoPG) SetOrderStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE lab_test_order SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const orderTestCols = `id, lab_test_order_id, test_id, status, created_at, updated_at`

func scanOrderTest(row pgx.Row) (*OrderTest, error) {
	var ot OrderTest
	err := row.Scan(&ot.ID, &ot.LabTestOrderID, &ot.TestID, &ot.Status, &ot.CreatedAt, &ot.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ot, nil
}

func (r *orderRepoPG) GetOrderTest(ctx context.Context, id uuid.UUID) (*OrderTest, error) {
	return scanOrderTest(r.conn(ctx).QueryRow(ctx, `SELECT `+orderTestCols+` FROM order_test WHERE id = $1`, id))
}

func (r *orderRepoPG) SetOrderTestStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE order_test SET status=$3, updated_at=NOW() WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *orderRepoPG) CountTests(ctx context.Context, orderID uuid.UUID) (StatusCounts, error) {
	var c StatusCounts
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM order_test WHERE lab_test_order_id = $1`, orderID).Scan(&c.Total, &c.Completed, &c.Cancelled)
	return c, err
}

func sendBatch(ctx context.Context, q db.Querier, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	br := q.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}
