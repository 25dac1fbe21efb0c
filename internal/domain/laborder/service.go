package laborder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/activity"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/validation"
)

type Service struct {
	requests RequestRepository
	orders   OrderRepository
	tx       db.Transactor
	activity ActivityRecorder
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(requests RequestRepository, orders OrderRepository, tx db.Transactor) *Service {
	return &Service{
		requests: requests,
		orders:   orders,
		tx:       tx,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
}

func (s *Service) SetActivityRecorder(r ActivityRecorder) {
	s.activity = r
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// -- Request review --

// Approve turns a pending request into a lab test order with one pending
// order test per requested test. Everything is written in one transaction.
// A request that is no longer pending yields ErrAlreadyProcessed and no
// writes.
func (s *Service) Approve(ctx context.Context, reviewer auth.Principal, requestID uuid.UUID) (*ApprovalResult, error) {
	if reviewer.IsZero() {
		return nil, validation.Field("reviewed_by", "is required")
	}

	var result *ApprovalResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		req, err := s.requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return fmt.Errorf("%w: request is %s", ErrAlreadyProcessed, req.Status)
		}

		now := s.now().UTC()
		remarks := fmt.Sprintf("Created from test request #%s", req.ID)
		order := &LabTestOrder{
			PatientID: req.PatientID,
			OrderDate: now,
			Status:    StatusPending,
			Remarks:   &remarks,
		}
		if err := s.orders.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create lab test order: %w", err)
		}

		tests := make([]*OrderTest, 0, len(req.Items))
		for _, it := range req.Items {
			tests = append(tests, &OrderTest{LabTestOrderID: order.ID, TestID: it.TestID, Status: StatusPending})
		}
		if err := s.orders.CreateOrderTests(ctx, tests); err != nil {
			return fmt.Errorf("create order tests: %w", err)
		}

		ok, err := s.requests.Review(ctx, req.ID, RequestApproved, reviewer.UserID, now, nil)
		if err != nil {
			return fmt.Errorf("approve test request: %w", err)
		}
		if !ok {
			return ErrAlreadyProcessed
		}

		result = &ApprovalResult{
			RequestID: req.ID,
			OrderID:   order.ID,
			Message:   fmt.Sprintf("Lab Test Order #%s created", order.ID),
		}
		for _, ot := range tests {
			result.OrderTestIDs = append(result.OrderTestIDs, ot.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, reviewer, "test_request.approved", "test_request", requestID,
		fmt.Sprintf("Approved test request #%s and created lab test order #%s", requestID, result.OrderID))
	return result, nil
}

// Reject closes a pending request with the reviewer's remarks. Remarks are
// validated before anything is read.
func (s *Service) Reject(ctx context.Context, reviewer auth.Principal, requestID uuid.UUID, in RejectInput) (*TestRequest, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if reviewer.IsZero() {
		return nil, validation.Field("reviewed_by", "is required")
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != RequestPending {
		return nil, fmt.Errorf("%w: request is %s", ErrAlreadyProcessed, req.Status)
	}

	now := s.now().UTC()
	ok, err := s.requests.Review(ctx, requestID, RequestRejected, reviewer.UserID, now, &in.Remarks)
	if err != nil {
		return nil, fmt.Errorf("reject test request: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyProcessed
	}
	req.Status = RequestRejected
	req.StaffRemarks = &in.Remarks
	req.ReviewedBy = &reviewer.UserID
	req.ReviewedAt = &now

	s.record(ctx, reviewer, "test_request.rejected", "test_request", requestID,
		fmt.Sprintf("Rejected test request #%s: %s", requestID, in.Remarks))
	return req, nil
}

// -- Status aggregation --

// UpdateStatusFromTests recomputes an order's status from its order tests
// and returns the stored status afterwards. Orders without tests are left
// alone.
func (s *Service) UpdateStatusFromTests(ctx context.Context, orderID uuid.UUID) (string, error) {
	var status string
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		status, err = s.recompute(ctx, orderID)
		return err
	})
	return status, err
}

// recompute must run inside a transaction.
func (s *Service) recompute(ctx context.Context, orderID uuid.UUID) (string, error) {
	current, err := s.orders.LockOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	counts, err := s.orders.CountTests(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("count order tests: %w", err)
	}
	next, ok := AggregateStatus(counts)
	if !ok || next == current {
		return current, nil
	}
	if err := s.orders.SetOrderStatus(ctx, orderID, next); err != nil {
		return "", fmt.Errorf("set order status: %w", err)
	}
	s.logger.Debug().Str("order_id", orderID.String()).Str("from", current).Str("to", next).Msg("order status recomputed")
	return next, nil
}

// UpdateOrderTestStatus moves one order test and recomputes its order in
// the same transaction.
func (s *Service) UpdateOrderTestStatus(ctx context.Context, actor auth.Principal, orderTestID uuid.UUID, in UpdateOrderTestStatusInput) (*LabTestOrder, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	var order *LabTestOrder
	var from string
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ot, err := s.orders.GetOrderTest(ctx, orderTestID)
		if err != nil {
			return err
		}
		from = ot.Status
		if err := ValidateOrderTestTransition(from, in.Status); err != nil {
			return err
		}
		if _, err := s.orders.LockOrder(ctx, ot.LabTestOrderID); err != nil {
			return err
		}
		ok, err := s.orders.SetOrderTestStatus(ctx, ot.ID, from, in.Status)
		if err != nil {
			return fmt.Errorf("set order test status: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: order test %s changed concurrently", ErrInvalidTransition, ot.ID)
		}
		if _, err := s.recompute(ctx, ot.LabTestOrderID); err != nil {
			return err
		}
		order, err = s.orders.GetOrder(ctx, ot.LabTestOrderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, actor, "order_test.status_changed", "order_test", orderTestID,
		fmt.Sprintf("Order test %s changed from %s to %s; order #%s is %s", orderTestID, from, in.Status, order.ID, order.Status))
	return order, nil
}

// CompleteOrderTest marks an order test completed. Completing an already
// completed test is a no-op.
func (s *Service) CompleteOrderTest(ctx context.Context, actor auth.Principal, orderTestID uuid.UUID) error {
	ot, err := s.orders.GetOrderTest(ctx, orderTestID)
	if err != nil {
		return err
	}
	if ot.Status == StatusCompleted {
		return nil
	}
	_, err = s.UpdateOrderTestStatus(ctx, actor, orderTestID, UpdateOrderTestStatusInput{Status: StatusCompleted})
	return err
}

// -- Requests --

// SubmitRequest records a pending request for one or more distinct tests.
func (s *Service) SubmitRequest(ctx context.Context, actor auth.Principal, in SubmitRequestInput) (*TestRequest, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if actor.IsZero() {
		return nil, validation.Field("submitted_by", "is required")
	}

	req := &TestRequest{
		PatientID:   in.PatientID,
		SubmittedBy: actor.UserID,
		Purpose:     in.Purpose,
		Status:      RequestPending,
	}
	if in.PreferredDate != "" {
		d, err := time.Parse("2006-01-02", in.PreferredDate)
		if err != nil {
			return nil, validation.Field("preferred_date", "must be formatted as 2006-01-02")
		}
		today := s.now().UTC().Truncate(24 * time.Hour)
		if d.Before(today) {
			return nil, validation.Field("preferred_date", "must not be in the past")
		}
		req.PreferredDate = &d
	}
	for _, id := range in.TestIDs {
		req.Items = append(req.Items, TestRequestItem{TestID: id})
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.requests.Create(ctx, req)
	})
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, validation.Field(referenceField(db.ConstraintName(err)), "does not exist")
		}
		return nil, err
	}

	s.record(ctx, actor, "test_request.submitted", "test_request", req.ID,
		fmt.Sprintf("Submitted test request #%s for %d test(s)", req.ID, len(req.Items)))
	return req, nil
}

func referenceField(constraint string) string {
	if constraint == "test_request_patient_id_fkey" {
		return "patient_id"
	}
	return "test_ids"
}

// CancelRequest withdraws a pending request. Only its submitter, or an
// admin, may cancel it.
func (s *Service) CancelRequest(ctx context.Context, actor auth.Principal, requestID uuid.UUID) (*TestRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.SubmittedBy != actor.UserID && !actor.HasRole(auth.RoleAdmin) {
		return nil, ErrNotOwner
	}
	if req.Status != RequestPending {
		return nil, fmt.Errorf("%w: request is %s", ErrAlreadyProcessed, req.Status)
	}
	ok, err := s.requests.Cancel(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("cancel test request: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyProcessed
	}
	req.Status = RequestCancelled

	s.record(ctx, actor, "test_request.cancelled", "test_request", requestID,
		fmt.Sprintf("Cancelled test request #%s", requestID))
	return req, nil
}

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	return s.requests.GetByID(ctx, id)
}

var validRequestStatuses = map[string]bool{
	RequestPending: true, RequestApproved: true, RequestRejected: true, RequestCancelled: true,
}

// ListRequests lists requests newest first, optionally filtered by status.
func (s *Service) ListRequests(ctx context.Context, status string, limit, offset int) ([]*TestRequest, int, error) {
	if status != "" && !validRequestStatuses[status] {
		return nil, 0, validation.Field("status", "must be one of: PENDING, APPROVED, REJECTED, CANCELLED")
	}
	return s.requests.List(ctx, status, limit, offset)
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*LabTestOrder, error) {
	return s.orders.GetOrder(ctx, id)
}

func (s *Service) record(ctx context.Context, actor auth.Principal, action, subjectType string, id uuid.UUID, msg string) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, activity.Entry{
		ActorID:     actor.UserID,
		Action:      action,
		SubjectType: subjectType,
		SubjectID:   id,
		Message:     msg,
	})
}

