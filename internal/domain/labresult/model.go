package labresult

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusDraft   = "draft"
	StatusFinal   = "final"
	StatusRevised = "revised"
)

// Verification display statuses.
const (
	VerificationValid   = "VALID"
	VerificationRevoked = "REVOKED"
)

// NotAvailable is shown for any relation missing from a verification lookup.
const NotAvailable = "N/A"

var (
	ErrNotFound          = errors.New("lab result not found")
	ErrInvalidState      = errors.New("lab result is not in a valid state for this operation")
	ErrInvalidTransition = errors.New("invalid lab result status transition")
	ErrSerialExhausted   = errors.New("serial number sequence exhausted for year")
)

// LabResult is one result for a (patient, test) pair.
type LabResult struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	TestID           uuid.UUID  `json:"test_id"`
	OrderTestID      *uuid.UUID `json:"order_test_id,omitempty"`
	LabTestOrderID   *uuid.UUID `json:"lab_test_order_id,omitempty"`
	ResultDate       time.Time  `json:"result_date"`
	Findings         *string    `json:"findings,omitempty"`
	NormalRange      *string    `json:"normal_range,omitempty"`
	ResultValue      *string    `json:"result_value,omitempty"`
	Remarks          *string    `json:"remarks,omitempty"`
	Status           string     `json:"status"`
	PerformedBy      *uuid.UUID `json:"performed_by,omitempty"`
	VerifiedBy       *uuid.UUID `json:"verified_by,omitempty"`
	SerialNumber     *string    `json:"serial_number,omitempty"`
	VerificationCode *string    `json:"verification_code,omitempty"`
	IsRevoked        bool       `json:"is_revoked"`
	PrintedAt        *time.Time `json:"printed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasSerial reports whether the serial/verification pair has been issued.
func (r *LabResult) HasSerial() bool {
	return r.SerialNumber != nil && *r.SerialNumber != ""
}

// cacheKeys lists the verification cache entries that may hold r.
func (r *LabResult) cacheKeys() []string {
	var keys []string
	if r.SerialNumber != nil {
		keys = append(keys, cacheKey(LookupSerial, *r.SerialNumber))
	}
	if r.VerificationCode != nil {
		keys = append(keys, cacheKey(LookupCode, *r.VerificationCode))
	}
	return keys
}

// LookupField selects the column a verification lookup matches on.
type LookupField string

const (
	LookupSerial LookupField = "serial_number"
	LookupCode   LookupField = "verification_code"
)

func cacheKey(field LookupField, value string) string {
	return string(field) + ":" + value
}

// VerificationRecord is the joined row behind a public lookup. Relation
// names are nil when the related row is missing.
type VerificationRecord struct {
	SerialNumber     string
	IsRevoked        bool
	ResultDate       time.Time
	ResultStatus     string
	PrintedAt        *time.Time
	PatientFirstName *string
	PatientLastName  *string
	TestName         *string
	SectionName      *string
	PerformedByName  *string
	VerifiedByName   *string
}

// Details builds the public projection of the record.
func (v *VerificationRecord) Details() *VerificationDetails {
	status := VerificationValid
	if v.IsRevoked {
		status = VerificationRevoked
	}
	return &VerificationDetails{
		Valid:        !v.IsRevoked,
		SerialNumber: v.SerialNumber,
		Status:       status,
		PatientName:  patientName(v.PatientFirstName, v.PatientLastName),
		TestName:     orNA(v.TestName),
		Section:      orNA(v.SectionName),
		ResultDate:   v.ResultDate.Format("2006-01-02"),
		ResultStatus: v.ResultStatus,
		PerformedBy:  orNA(v.PerformedByName),
		VerifiedBy:   orNA(v.VerifiedByName),
		PrintedAt:    v.PrintedAt,
	}
}

func patientName(first, last *string) string {
	var parts []string
	for _, p := range []*string{first, last} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	if len(parts) == 0 {
		return NotAvailable
	}
	return strings.Join(parts, " ")
}

func orNA(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return NotAvailable
	}
	return *s
}

// VerificationDetails is everything the public lookup may disclose about a
// result. Findings, values and remarks are never part of it.
type VerificationDetails struct {
	Valid        bool       `json:"valid"`
	SerialNumber string     `json:"serial_number"`
	Status       string     `json:"status"`
	PatientName  string     `json:"patient_name"`
	TestName     string     `json:"test_name"`
	Section      string     `json:"section"`
	ResultDate   string     `json:"result_date"`
	ResultStatus string     `json:"result_status"`
	PerformedBy  string     `json:"performed_by"`
	VerifiedBy   string     `json:"verified_by"`
	PrintedAt    *time.Time `json:"printed_at"`
}

// Verification is the response of a public lookup. When Found is false the
// embedded details are nil and only "found" is serialized.
type Verification struct {
	Found bool `json:"found"`
	*VerificationDetails
}

// CreateResultInput is the body of a result entry. New results are drafts.
type CreateResultInput struct {
	PatientID      uuid.UUID  `json:"patient_id" validate:"required"`
	TestID         uuid.UUID  `json:"test_id" validate:"required"`
	OrderTestID    *uuid.UUID `json:"order_test_id"`
	LabTestOrderID *uuid.UUID `json:"lab_test_order_id"`
	ResultDate     string     `json:"result_date" validate:"omitempty,datetime=2006-01-02"`
	Findings       *string    `json:"findings" validate:"omitempty,max=4000"`
	NormalRange    *string    `json:"normal_range" validate:"omitempty,max=255"`
	ResultValue    *string    `json:"result_value" validate:"omitempty,max=255"`
	Remarks        *string    `json:"remarks" validate:"omitempty,max=2000"`
	PerformedBy    *uuid.UUID `json:"performed_by"`
}

// UpdateResultInput carries a staff edit. Nil fields are left unchanged.
type UpdateResultInput struct {
	ResultDate  *string    `json:"result_date" validate:"omitempty,datetime=2006-01-02"`
	Findings    *string    `json:"findings" validate:"omitempty,max=4000"`
	NormalRange *string    `json:"normal_range" validate:"omitempty,max=255"`
	ResultValue *string    `json:"result_value" validate:"omitempty,max=255"`
	Remarks     *string    `json:"remarks" validate:"omitempty,max=2000"`
	Status      *string    `json:"status" validate:"omitempty,oneof=draft final revised"`
	PerformedBy *uuid.UUID `json:"performed_by"`
	VerifiedBy  *uuid.UUID `json:"verified_by"`
}

var statusTransitions = map[string][]string{
	StatusDraft:   {StatusDraft, StatusFinal},
	StatusFinal:   {StatusFinal, StatusRevised},
	StatusRevised: {StatusRevised},
}

// ValidateTransition reports whether a result may move from one status to
// another. Staying in the same status is always allowed.
func ValidateTransition(from, to string) error {
	for _, s := range statusTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}
