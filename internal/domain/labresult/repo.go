package labresult

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/activity"
	"github.com/lims/lims/internal/platform/auth"
)

type Repository interface {
	Create(ctx context.Context, r *LabResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error)
	Update(ctx context.Context, r *LabResult) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error)
	// SetSerial writes both values only while the serial is still unset.
	// It reports false when another writer got there first.
	SetSerial(ctx context.Context, id uuid.UUID, serial, code string) (bool, error)
	SetRevoked(ctx context.Context, id uuid.UUID) error
	// SetPrinted keeps an existing printed_at and returns the stored value.
	SetPrinted(ctx context.Context, id uuid.UUID, at time.Time) (time.Time, error)
	FindVerification(ctx context.Context, field LookupField, value string) (*VerificationRecord, error)
}

// SerialCounter hands out per-(prefix, year) sequence values.
type SerialCounter interface {
	// Next increments and returns the counter. It must run in the caller's
	// transaction so a rollback returns the value.
	Next(ctx context.Context, prefix string, year int) (int, error)
	// Peek returns the value Next would return, without consuming it.
	Peek(ctx context.Context, prefix string, year int) (int, error)
}

// VerificationCache stores public lookup projections.
type VerificationCache interface {
	Get(ctx context.Context, key string) (*VerificationDetails, bool, error)
	Set(ctx context.Context, key string, d *VerificationDetails) error
	Invalidate(ctx context.Context, keys ...string) error
}

// OrderTestCompleter marks the order test behind a finalized result as
// completed and recomputes its order.
type OrderTestCompleter interface {
	CompleteOrderTest(ctx context.Context, actor auth.Principal, orderTestID uuid.UUID) error
}

type ActivityRecorder interface {
	Record(ctx context.Context, e activity.Entry)
}
