package laborder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/activity"
)

type RequestRepository interface {
	// Create inserts the request together with its items.
	Create(ctx context.Context, r *TestRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error)
	List(ctx context.Context, status string, limit, offset int) ([]*TestRequest, int, error)
	// Review moves a PENDING request to a reviewed status. It reports false
	// when the request was no longer pending.
	Review(ctx context.Context, id uuid.UUID, status string, reviewer uuid.UUID, at time.Time, remarks *string) (bool, error)
	// Cancel moves a PENDING request to CANCELLED, reporting false otherwise.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, o *LabTestOrder) error
	CreateOrderTests(ctx context.Context, tests []*OrderTest) error
	GetOrder(ctx context.Context, id uuid.UUID) (*LabTestOrder, error)
	// LockOrder takes a row lock on the order for the rest of the
	// transaction and returns its stored status.
	LockOrder(ctx context.Context, id uuid.UUID) (string, error)
	SetOrderStatus(ctx context.Context, id uuid.UUID, status string) error
	GetOrderTest(ctx context.Context, id uuid.UUID) (*OrderTest, error)
	// SetOrderTestStatus changes status only when it still equals from.
	SetOrderTestStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	CountTests(ctx context.Context, orderID uuid.UUID) (StatusCounts, error)
}

type ActivityRecorder interface {
	Record(ctx context.Context, e activity.Entry)
}
