package laborder

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Test request statuses.
const (
	RequestPending   = "PENDING"
	RequestApproved  = "APPROVED"
	RequestRejected  = "REJECTED"
	RequestCancelled = "CANCELLED"
)

// Statuses shared by lab test orders and their order tests.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyProcessed  = errors.New("test request already processed")
	ErrInvalidTransition = errors.New("invalid order test status transition")
	ErrNotOwner          = errors.New("only the submitter or an admin may cancel a test request")
)

type TestRequest struct {
	ID            uuid.UUID         `json:"id"`
	PatientID     uuid.UUID         `json:"patient_id"`
	SubmittedBy   uuid.UUID         `json:"submitted_by"`
	Purpose       string            `json:"purpose"`
	PreferredDate *time.Time        `json:"preferred_date,omitempty"`
	Status        string            `json:"status"`
	StaffRemarks  *string           `json:"staff_remarks,omitempty"`
	ReviewedBy    *uuid.UUID        `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time        `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Items         []TestRequestItem `json:"items"`
}

// TestRequestItem is one requested test. Items never change after creation.
type TestRequestItem struct {
	ID            uuid.UUID `json:"id"`
	TestRequestID uuid.UUID `json:"test_request_id"`
	TestID        uuid.UUID `json:"test_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type LabTestOrder struct {
	ID          uuid.UUID   `json:"id"`
	PatientID   uuid.UUID   `json:"patient_id"`
	PhysicianID *uuid.UUID  `json:"physician_id"`
	OrderDate   time.Time   `json:"order_date"`
	Status      string      `json:"status"`
	Remarks     *string     `json:"remarks,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Tests       []OrderTest `json:"tests"`
}

type OrderTest struct {
	ID             uuid.UUID `json:"id"`
	LabTestOrderID uuid.UUID `json:"lab_test_order_id"`
	TestID         uuid.UUID `json:"test_id"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ApprovalResult identifies what an approval created.
type ApprovalResult struct {
	RequestID    uuid.UUID   `json:"request_id"`
	OrderID      uuid.UUID   `json:"order_id"`
	OrderTestIDs []uuid.UUID `json:"order_test_ids"`
	Message      string      `json:"message"`
}

type SubmitRequestInput struct {
	PatientID     uuid.UUID   `json:"patient_id" validate:"required"`
	Purpose       string      `json:"purpose" validate:"required,notblank,max=500"`
	PreferredDate string      `json:"preferred_date" validate:"omitempty,datetime=2006-01-02"`
	TestIDs       []uuid.UUID `json:"test_ids" validate:"required,min=1,unique"`
}

type RejectInput struct {
	Remarks string `json:"remarks" validate:"required,notblank,max=1000"`
}

type UpdateOrderTestStatusInput struct {
	Status string `json:"status" validate:"required,oneof=pending completed cancelled"`
}
