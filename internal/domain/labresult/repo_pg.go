package labresult

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/db"
)

type labResultRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &labResultRepoPG{pool: pool}
}

func (r *labResultRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const resultCols = `id, patient_id, test_id, order_test_id, lab_test_order_id,
	result_date, findings, normal_range, result_value, remarks, status,
	performed_by, verified_by, serial_number, verification_code, is_revoked,
	printed_at, created_at, updated_at`

func scanResult(row pgx.Row) (*LabResult, error) {
	var lr LabResult
	err := row.Scan(&lr.ID, &lr.PatientID, &lr.TestID, &lr.OrderTestID, &lr.LabTestOrderID,
		&lr.ResultDate, &lr.Findings, &lr.NormalRange, &lr.ResultValue, &lr.Remarks, &lr.Status,
		&lr.PerformedBy, &lr.VerifiedBy, &lr.SerialNumber, &lr.VerificationCode, &lr.IsRevoked,
		&lr.PrintedAt, &lr.CreatedAt, &lr.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lr, nil
}

func (r *labResultRepoPG) Create(ctx context.Context, lr *LabResult) error {
	lr.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_result (id, patient_id, test_id, order_test_id, lab_test_order_id,
			result_date, findings, normal_range, result_value, remarks, status, performed_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		lr.ID, lr.PatientID, lr.TestID, lr.OrderTestID, lr.LabTestOrderID,
		lr.ResultDate, lr.Findings, lr.NormalRange, lr.ResultValue, lr.Remarks, lr.Status, lr.PerformedBy,
	).Scan(&lr.CreatedAt, &lr.UpdatedAt)
}

func (r *labResultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return scanResult(r.conn(ctx).QueryRow(ctx, `SELECT `+resultCols+` FROM lab_result WHERE id = $1`, id))
}

// Update writes the editable fields. Serial, code, revocation and print
// state have their own guarded setters.
func (r *labResultRepoPG) Update(ctx context.Context, lr *LabResult) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_result SET result_date=$2, findings=$3, normal_range=$4, result_value=$5,
			remarks=$6, status=$7, performed_by=$8, verified_by=$9, updated_at=NOW()
		WHERE id = $1`,
		lr.ID, lr.ResultDate, lr.Findings, lr.NormalRange, lr.ResultValue,
		lr.Remarks, lr.Status, lr.PerformedBy, lr.VerifiedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *labResultRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_result WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+resultCols+` FROM lab_result
		WHERE patient_id = $1 ORDER BY result_date DESC, created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*LabResult
	for rows.Next() {
		lr, err := scanResult(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, lr)
	}
	return items, total, rows.Err()
}

func (r *labResultRepoPG) SetSerial(ctx context.Context, id uuid.UUID, serial, code string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_result SET serial_number=$2, verification_code=$3, updated_at=NOW()
		WHERE id = $1 AND serial_number IS NULL`, id, serial, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *labResultRepoPG) SetRevoked(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_result SET is_revoked=TRUE, updated_at=NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *labResultRepoPG) SetPrinted(ctx context.Context, id uuid.UUID, at time.Time) (time.Time, error) {
	var printedAt time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE lab_result SET printed_at=COALESCE(printed_at, $2), updated_at=NOW()
		WHERE id = $1
		RETURNING printed_at`, id, at).Scan(&printedAt)
	if db.IsNoRows(err) {
		return time.Time{}, ErrNotFound
	}
	return printedAt, err
}

func (r *labResultRepoPG) FindVerification(ctx context.Context, field LookupField, value string) (*VerificationRecord, error) {
	var where string
	switch field {
	case LookupSerial:
		where = "lr.serial_number = $1"
	case LookupCode:
		where = "lr.verification_code = $1"
	default:
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}

	var v VerificationRecord
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT lr.serial_number, lr.is_revoked, lr.result_date, lr.status, lr.printed_at,
			p.first_name, p.last_name, t.name, s.name, pb.full_name, vb.full_name
		FROM lab_result lr
		LEFT JOIN patient p ON p.id = lr.patient_id
		LEFT JOIN lab_test t ON t.id = lr.test_id
		LEFT JOIN section s ON s.id = t.section_id
		LEFT JOIN staff pb ON pb.id = lr.performed_by
		LEFT JOIN staff vb ON vb.id = lr.verified_by
		WHERE `+where, value).Scan(
		&v.SerialNumber, &v.IsRevoked, &v.ResultDate, &v.ResultStatus, &v.PrintedAt,
		&v.PatientFirstName, &v.PatientLastName, &v.TestName, &v.SectionName,
		&v.PerformedByName, &v.VerifiedByName)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// =========== Serial Counter ===========

type serialCounterPG struct{ pool *pgxpool.Pool }

func NewSerialCounterPG(pool *pgxpool.Pool) SerialCounter {
	return &serialCounterPG{pool: pool}
}

// highestIssued is the largest sequence already present for a year, so a
// counter created on top of existing data continues after it.
const highestIssued = `COALESCE((SELECT MAX(CAST(RIGHT(serial_number, 6) AS INTEGER))
	FROM lab_result WHERE serial_number LIKE $3), 0)`

func (c *serialCounterPG) Next(ctx context.Context, prefix string, year int) (int, error) {
	var next int
	err := db.Conn(ctx, c.pool).QueryRow(ctx, `
		INSERT INTO lab_result_serial_counter (prefix, year, last_value)
		VALUES ($1, $2, `+highestIssued+` + 1)
		ON CONFLICT (prefix, year)
		DO UPDATE SET last_value = lab_result_serial_counter.last_value + 1, updated_at = NOW()
		RETURNING last_value`,
		prefix, year, serialPattern(prefix, year)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next serial for %s/%d: %w", prefix, year, err)
	}
	return next, nil
}

func (c *serialCounterPG) Peek(ctx context.Context, prefix string, year int) (int, error) {
	var next int
	err := db.Conn(ctx, c.pool).QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT last_value FROM lab_result_serial_counter WHERE prefix = $1 AND year = $2),
			`+highestIssued+`) + 1`,
		prefix, year, serialPattern(prefix, year)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("peek serial for %s/%d: %w", prefix, year, err)
	}
	return next, nil
}
