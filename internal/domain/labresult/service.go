package labresult

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/laborder"
	"github.com/lims/lims/internal/platform/activity"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/validation"
)

// DefaultSerialPrefix starts every serial number unless overridden.
const DefaultSerialPrefix = "LR"

// maxCodeAttempts bounds retries after a verification code collision.
const maxCodeAttempts = 3

// verificationCodeConstraint is the unique constraint on lab_result.verification_code.
const verificationCodeConstraint = "lab_result_verification_code_key"

// errSerialTaken rolls back an assignment that lost the race to another writer.
var errSerialTaken = errors.New("serial already assigned")

type Service struct {
	results    Repository
	counter    SerialCounter
	tx         db.Transactor
	cache      VerificationCache
	orderTests OrderTestCompleter
	activity   ActivityRecorder
	logger     zerolog.Logger
	prefix     string
	now        func() time.Time
	newCode    func() (string, error)
}

func NewService(results Repository, counter SerialCounter, tx db.Transactor) *Service {
	return &Service{
		results: results,
		counter: counter,
		tx:      tx,
		logger:  zerolog.Nop(),
		prefix:  DefaultSerialPrefix,
		now:     time.Now,
		newCode: NewVerificationCode,
	}
}

// SetCache attaches an optional verification cache.
func (s *Service) SetCache(c VerificationCache) {
	s.cache = c
}

// SetOrderTestCompleter wires result finalization to order tracking.
func (s *Service) SetOrderTestCompleter(c OrderTestCompleter) {
	s.orderTests = c
}

func (s *Service) SetActivityRecorder(r ActivityRecorder) {
	s.activity = r
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

func (s *Service) SetSerialPrefix(prefix string) {
	if prefix != "" {
		s.prefix = prefix
	}
}

// SetClock replaces time.Now. The serial year comes from this clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// -- Serial / Verification Issuer --

// AssignSerialNumber issues the serial number and verification code of a
// final or revised result. A result that already has them is returned as is.
func (s *Service) AssignSerialNumber(ctx context.Context, actor auth.Principal, id uuid.UUID) (*LabResult, error) {
	for attempt := 1; ; attempt++ {
		lr, issued, err := s.assignOnce(ctx, id)
		if err != nil {
			if db.IsUniqueViolation(err) && db.ConstraintName(err) == verificationCodeConstraint && attempt < maxCodeAttempts {
				s.logger.Warn().Str("lab_result_id", id.String()).Int("attempt", attempt).Msg("verification code collision, retrying")
				continue
			}
			return nil, err
		}
		if issued {
			s.record(ctx, actor, "lab_result.serial_assigned", lr.ID,
				fmt.Sprintf("Serial number %s assigned to lab result %s", *lr.SerialNumber, lr.ID))
		}
		return lr, nil
	}
}

func (s *Service) assignOnce(ctx context.Context, id uuid.UUID) (*LabResult, bool, error) {
	var out *LabResult
	issued := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		lr, err := s.results.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if lr.HasSerial() {
			out = lr
			return nil
		}
		if lr.Status != StatusFinal && lr.Status != StatusRevised {
			return fmt.Errorf("%w: result %s is %s", ErrInvalidState, id, lr.Status)
		}

		year := s.now().Year()
		seq, err := s.counter.Next(ctx, s.prefix, year)
		if err != nil {
			return err
		}
		if seq > MaxSequence {
			return fmt.Errorf("%w: %d", ErrSerialExhausted, year)
		}
		serial := FormatSerial(s.prefix, year, seq)
		code, err := s.newCode()
		if err != nil {
			return err
		}

		ok, err := s.results.SetSerial(ctx, id, serial, code)
		if err != nil {
			return err
		}
		if !ok {
			return errSerialTaken
		}
		lr.SerialNumber = &serial
		lr.VerificationCode = &code
		out, issued = lr, true
		return nil
	})
	if errors.Is(err, errSerialTaken) {
		// The counter value was rolled back; return the winner's values.
		lr, err := s.results.GetByID(ctx, id)
		return lr, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return out, issued, nil
}

// Revoke marks a result as revoked. There is no way back.
func (s *Service) Revoke(ctx context.Context, actor auth.Principal, id uuid.UUID) (*LabResult, error) {
	lr, err := s.results.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if lr.IsRevoked {
		return lr, nil
	}
	if err := s.results.SetRevoked(ctx, id); err != nil {
		return nil, err
	}
	lr.IsRevoked = true
	s.invalidate(ctx, lr)
	s.record(ctx, actor, "lab_result.revoked", lr.ID, fmt.Sprintf("Lab result %s revoked", lr.ID))
	return lr, nil
}

// MarkAsPrinted stamps printed_at on the first print only. A printed result
// always carries a serial number, so one is assigned first when missing.
func (s *Service) MarkAsPrinted(ctx context.Context, actor auth.Principal, id uuid.UUID) (*LabResult, error) {
	lr, err := s.AssignSerialNumber(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	firstPrint := lr.PrintedAt == nil
	printedAt, err := s.results.SetPrinted(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	lr.PrintedAt = &printedAt
	if firstPrint {
		s.invalidate(ctx, lr)
		s.record(ctx, actor, "lab_result.printed", lr.ID,
			fmt.Sprintf("Lab result %s printed", *lr.SerialNumber))
	}
	return lr, nil
}

// Verify looks a result up by serial number.
func (s *Service) Verify(ctx context.Context, serial string) (Verification, error) {
	return s.lookup(ctx, LookupSerial, serial)
}

// VerifyByCode looks a result up by verification code.
func (s *Service) VerifyByCode(ctx context.Context, code string) (Verification, error) {
	return s.lookup(ctx, LookupCode, code)
}

// VerifyCertificate accepts either a serial number or a verification code.
func (s *Service) VerifyCertificate(ctx context.Context, key string) (Verification, error) {
	v, err := s.Verify(ctx, key)
	if err != nil || v.Found {
		return v, err
	}
	return s.VerifyByCode(ctx, key)
}

func (s *Service) lookup(ctx context.Context, field LookupField, value string) (Verification, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Verification{}, nil
	}
	key := cacheKey(field, value)

	if s.cache != nil {
		d, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Msg("verification cache read failed")
		} else if ok {
			return Verification{Found: true, VerificationDetails: d}, nil
		}
	}

	rec, err := s.results.FindVerification(ctx, field, value)
	if errors.Is(err, ErrNotFound) {
		return Verification{}, nil
	}
	if err != nil {
		return Verification{}, err
	}
	d := rec.Details()

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, d); err != nil {
			s.logger.Warn().Err(err).Msg("verification cache write failed")
		}
	}
	return Verification{Found: true, VerificationDetails: d}, nil
}

// -- Result entry --

func (s *Service) CreateResult(ctx context.Context, actor auth.Principal, in CreateResultInput) (*LabResult, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	resultDate := s.now().UTC().Truncate(24 * time.Hour)
	if in.ResultDate != "" {
		d, err := time.Parse("2006-01-02", in.ResultDate)
		if err != nil {
			return nil, validation.Field("result_date", "must be formatted as 2006-01-02")
		}
		resultDate = d
	}
	lr := &LabResult{
		PatientID:      in.PatientID,
		TestID:         in.TestID,
		OrderTestID:    in.OrderTestID,
		LabTestOrderID: in.LabTestOrderID,
		ResultDate:     resultDate,
		Findings:       in.Findings,
		NormalRange:    in.NormalRange,
		ResultValue:    in.ResultValue,
		Remarks:        in.Remarks,
		Status:         StatusDraft,
		PerformedBy:    in.PerformedBy,
	}
	if err := s.results.Create(ctx, lr); err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, validation.Field(referenceField(db.ConstraintName(err)), "does not exist")
		}
		if db.IsUniqueViolation(err) {
			return nil, validation.Field("order_test_id", "already has a result")
		}
		return nil, err
	}
	s.record(ctx, actor, "lab_result.created", lr.ID, fmt.Sprintf("Lab result %s entered", lr.ID))
	return lr, nil
}

// referenceField maps a lab_result foreign key constraint to its column.
func referenceField(constraint string) string {
	for _, f := range []string{"patient_id", "test_id", "order_test_id", "lab_test_order_id", "performed_by"} {
		if strings.Contains(constraint, f) {
			return f
		}
	}
	return "reference"
}

func (s *Service) GetResult(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return s.results.GetByID(ctx, id)
}

func (s *Service) ListResultsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	return s.results.ListByPatient(ctx, patientID, limit, offset)
}

// UpdateResult applies a staff edit. When a result linked to an order test
// becomes final, that order test is completed in the same transaction.
func (s *Service) UpdateResult(ctx context.Context, actor auth.Principal, id uuid.UUID, in UpdateResultInput) (*LabResult, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	var out *LabResult
	var from string
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		lr, err := s.results.GetByID(ctx, id)
		if err != nil {
			return err
		}
		from = lr.Status
		to := lr.Status
		if in.Status != nil {
			to = *in.Status
		}
		if err := ValidateTransition(from, to); err != nil {
			return err
		}
		if err := applyUpdate(lr, in); err != nil {
			return err
		}
		lr.Status = to
		if err := s.results.Update(ctx, lr); err != nil {
			return err
		}
		if from != StatusFinal && to == StatusFinal && lr.OrderTestID != nil && s.orderTests != nil {
			if err := s.orderTests.CompleteOrderTest(ctx, actor, *lr.OrderTestID); err != nil {
				if errors.Is(err, laborder.ErrInvalidTransition) || errors.Is(err, laborder.ErrNotFound) {
					return fmt.Errorf("%w: order test %s cannot be completed: %w", ErrInvalidState, *lr.OrderTestID, err)
				}
				return fmt.Errorf("complete order test %s: %w", *lr.OrderTestID, err)
			}
		}
		out = lr
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.HasSerial() {
		s.invalidate(ctx, out)
	}
	msg := fmt.Sprintf("Lab result %s updated", out.ID)
	if from != out.Status {
		msg = fmt.Sprintf("Lab result %s changed from %s to %s", out.ID, from, out.Status)
	}
	s.record(ctx, actor, "lab_result.updated", out.ID, msg)
	return out, nil
}

func applyUpdate(lr *LabResult, in UpdateResultInput) error {
	if in.ResultDate != nil {
		d, err := time.Parse("2006-01-02", *in.ResultDate)
		if err != nil {
			return validation.Field("result_date", "must be formatted as 2006-01-02")
		}
		lr.ResultDate = d
	}
	if in.Findings != nil {
		lr.Findings = in.Findings
	}
	if in.NormalRange != nil {
		lr.NormalRange = in.NormalRange
	}
	if in.ResultValue != nil {
		lr.ResultValue = in.ResultValue
	}
	if in.Remarks != nil {
		lr.Remarks = in.Remarks
	}
	if in.PerformedBy != nil {
		lr.PerformedBy = in.PerformedBy
	}
	if in.VerifiedBy != nil {
		lr.VerifiedBy = in.VerifiedBy
	}
	return nil
}

// PeekSerial returns the serial number the next assignment in year would
// receive. Nothing is consumed.
func (s *Service) PeekSerial(ctx context.Context, year int) (string, error) {
	seq, err := s.counter.Peek(ctx, s.prefix, year)
	if err != nil {
		return "", err
	}
	if seq > MaxSequence {
		return "", fmt.Errorf("%w: %d", ErrSerialExhausted, year)
	}
	return FormatSerial(s.prefix, year, seq), nil
}

func (s *Service) invalidate(ctx context.Context, lr *LabResult) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, lr.cacheKeys()...); err != nil {
		s.logger.Warn().Err(err).Str("lab_result_id", lr.ID.String()).Msg("verification cache invalidation failed")
	}
}

func (s *Service) record(ctx context.Context, actor auth.Principal, action string, id uuid.UUID, msg string) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, activity.Entry{
		ActorID:     actor.UserID,
		Action:      action,
		SubjectType: "lab_result",
		SubjectID:   id,
		Message:     msg,
	})
}
