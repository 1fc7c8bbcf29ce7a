// Package reconciliation turns verified gateway transactions into ledger rows
// and derives the registration state of a student from that ledger.
package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"schoolreg/apperrors"
	"schoolreg/models"
	"schoolreg/services/gateway"

	"github.com/sirupsen/logrus"
)

// Event types published after a successful reconciliation.
const (
	EventPaymentReconciled = "payment.reconciled"
	EventApplicationPaid   = "application.paid"
)

// Event describes one accepted payment.
type Event struct {
	Type        string        `json:"type"`
	StudentID   uint          `json:"studentId"`
	Reference   string        `json:"reference"`
	PaymentType string        `json:"paymentType"`
	Amount      float64       `json:"amount"`
	Phase       string        `json:"installmentPhase,omitempty"`
	State       *StudentState `json:"student"`
	OccurredAt  time.Time     `json:"occurredAt"`
}

// EventSink receives events once the transaction that produced them has committed.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// Engine reconciles payments. It is safe for concurrent use.
type Engine struct {
	store    Store
	verifier gateway.Verifier
	locker   Locker
	sink     EventSink
	now      func() time.Time
	intn     func(n int) int
	lockTTL  time.Duration
	appTTL   time.Duration
}

type Option func(*Engine)

func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

func WithEventSink(s EventSink) Option { return func(e *Engine) { e.sink = s } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithRandom replaces the source of admission and application number digits.
func WithRandom(intn func(n int) int) Option { return func(e *Engine) { e.intn = intn } }

// WithApplicationTTL sets how long a pending application waits for its fee.
func WithApplicationTTL(ttl time.Duration) Option { return func(e *Engine) { e.appTTL = ttl } }

func NewEngine(store Store, verifier gateway.Verifier, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		verifier: verifier,
		locker:   noopLocker{},
		now:      time.Now,
		intn:     rand.IntN,
		lockTTL:  2 * time.Minute,
		appTTL:   72 * time.Hour,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// verifiedAmount asks the gateway about reference and returns the settled amount in minor units.
func (e *Engine) verifiedAmount(ctx context.Context, reference string) (*gateway.Transaction, int64, error) {
	tx, err := e.verifier.Verify(ctx, reference)
	if err != nil {
		return nil, 0, apperrors.GatewayVerification(err, "Payment verification failed")
	}
	if tx == nil {
		return nil, 0, apperrors.GatewayVerification(nil, "Payment reference %s is unknown to the gateway", reference)
	}
	if !tx.Successful() {
		return nil, 0, apperrors.GatewayVerification(nil, "Payment was not successful (status: %s)", tx.Status)
	}
	if tx.AmountMinor <= 0 {
		return nil, 0, apperrors.GatewayVerification(nil, "Payment amount must be positive")
	}
	return tx, tx.AmountMinor, nil
}

func gatewayPayment(tx *gateway.Transaction, now time.Time) models.Payment {
	p := models.Payment{
		Reference: tx.Reference,
		Gateway:   tx.Gateway,
		Currency:  tx.Currency,
		PaidAt:    tx.PaidAt,
	}
	if p.PaidAt == nil {
		p.PaidAt = &now
	}
	if len(tx.Raw) > 0 && json.Valid(tx.Raw) {
		p.GatewayResponse = models.JSON(tx.Raw)
	}
	return p
}

// state loads a student and derives its registration view.
func (e *Engine) state(ctx context.Context, store Store, student *models.Student) (*StudentState, error) {
	payments, err := store.RegistrationPayments(ctx, student.ID)
	if err != nil {
		return nil, err
	}
	return Derive(student, Summarize(payments)), nil
}

// StudentState returns the derived registration view of one student.
func (e *Engine) StudentState(ctx context.Context, studentID uint) (*StudentState, error) {
	student, err := e.store.FindStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return e.state(ctx, e.store, student)
}

// Lookup finds a student by application or admission number.
func (e *Engine) Lookup(ctx context.Context, identifier, kind string) (*StudentState, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperrors.Validation("identifier is required")
	}

	var (
		student *models.Student
		err     error
	)
	switch strings.ToLower(kind) {
	case "", "application":
		student, err = e.store.FindStudentByApplicationNumber(ctx, identifier)
		if errors.Is(err, apperrors.ErrNotFound) {
			if _, pendErr := e.store.FindPendingApplication(ctx, identifier, e.now()); pendErr == nil {
				return nil, apperrors.NotFound("Application %s is awaiting its application fee", identifier)
			}
		}
	case "admission":
		student, err = e.store.FindStudentByAdmissionNumber(ctx, identifier)
	default:
		return nil, apperrors.Validation("type must be application or admission")
	}
	if err != nil {
		return nil, err
	}
	return e.state(ctx, e.store, student)
}

// VerifyRegistrationPayment records a registration-fee payment for a student.
// A reference that is already in the ledger for this student is not counted twice.
func (e *Engine) VerifyRegistrationPayment(ctx context.Context, reference string, studentID uint, hint string) (*StudentState, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperrors.Validation("reference is required")
	}
	if studentID == 0 {
		return nil, apperrors.Validation("studentId is required")
	}
	if !ValidInstallmentHint(hint) {
		return nil, apperrors.Validation("installmentType must be one of full, first, second, half")
	}

	release, err := e.locker.Acquire(ctx, reference, e.lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	if state, done, err := e.replayRegistration(ctx, e.store, reference, studentID); done || err != nil {
		return state, err
	}

	tx, amountMinor, err := e.verifiedAmount(ctx, reference)
	if err != nil {
		return nil, err
	}

	var (
		state *StudentState
		phase string
		reply bool
	)
	err = e.store.Transaction(ctx, func(store Store) error {
		student, err := store.LockStudent(ctx, studentID)
		if err != nil {
			return err
		}
		if student.Course.ID == 0 {
			return apperrors.NotFound("Course for student %d not found", studentID)
		}

		// a concurrent request may have recorded the reference while we talked to the gateway
		if s, done, err := e.replayRegistration(ctx, store, reference, studentID); done || err != nil {
			state, reply = s, done
			return err
		}

		prior, err := store.RegistrationPayments(ctx, student.ID)
		if err != nil {
			return err
		}
		before := Summarize(prior)
		feeMinor := ToMinor(student.Course.RegistrationFee)
		newTotal := before.PaidMinor + amountMinor

		phase = InferInstallmentType(hint, amountMinor, before.PaidMinor, feeMinor)

		now := e.now()
		payment := gatewayPayment(tx, now)
		payment.Reference = reference
		payment.StudentID = student.ID
		payment.PaymentType = models.PaymentTypeRegistration
		payment.Amount = FromMinor(amountMinor)
		payment.InstallmentPhase = phase
		payment.InstallmentType = PersistedInstallmentType(phase)
		payment.InstallmentNumber = 1
		if before.Count > 0 {
			payment.InstallmentNumber = 2
		}
		payment.TotalInstallments = 2
		if phase == models.PhaseFull {
			payment.TotalInstallments = 1
		}
		payment.Status = models.PaymentPending
		if newTotal >= feeMinor {
			payment.Status = models.PaymentCompleted
		}

		if student.AdmissionNumber == nil && (phase == models.PhaseFirst || phase == models.PhaseFull) {
			number := GenerateAdmissionNumber(student.Course, now, e.intn)
			if err := store.SetAdmissionNumber(ctx, student.ID, number); err != nil {
				return err
			}
			student.AdmissionNumber = &number
			logrus.WithFields(logrus.Fields{
				"student_id":       student.ID,
				"admission_number": number,
			}).Info("Admission number assigned")
		}

		if phase == models.PhaseSecond {
			if err := store.CloseInstallments(ctx, student.ID); err != nil {
				return err
			}
		}

		if err := store.CreatePayment(ctx, &payment); err != nil {
			return err
		}

		if newTotal >= feeMinor && student.Status == models.StudentApplied {
			if err := store.AdvanceStudentStatus(ctx, student.ID, models.StudentApplied, models.StudentRegistered); err != nil {
				return err
			}
			student.Status = models.StudentRegistered
		}

		state, err = e.state(ctx, store, student)
		if err != nil {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"student_id":        student.ID,
			"reference":         reference,
			"installment_phase": phase,
			"total_paid":        state.TotalPaid,
			"payment_status":    state.PaymentStatus,
		}).Info("Registration payment reconciled")
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reply {
		return state, nil
	}

	e.publish(ctx, Event{
		Type:        EventPaymentReconciled,
		StudentID:   state.ID,
		Reference:   reference,
		PaymentType: models.PaymentTypeRegistration,
		Amount:      FromMinor(amountMinor),
		Phase:       phase,
		State:       state,
		OccurredAt:  e.now(),
	})
	return state, nil
}

// replayRegistration answers a repeated reference from the ledger. done is true when the
// reference was already recorded.
func (e *Engine) replayRegistration(ctx context.Context, store Store, reference string, studentID uint) (*StudentState, bool, error) {
	existing, err := store.FindPaymentByReference(ctx, reference)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, nil
	}
	if existing.StudentID != studentID || existing.PaymentType != models.PaymentTypeRegistration {
		return nil, true, apperrors.Conflict("Payment reference %s belongs to another payment", reference)
	}
	student, err := store.FindStudent(ctx, studentID)
	if err != nil {
		return nil, true, err
	}
	state, err := e.state(ctx, store, student)
	if err != nil {
		return nil, true, err
	}
	logrus.WithFields(logrus.Fields{
		"student_id": studentID,
		"reference":  reference,
	}).Info("Payment reference already reconciled")
	return state, true, nil
}

// ApplicationInput is a prospective student's application.
type ApplicationInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	CourseID  uint
}

// SubmitApplication issues an application number and parks the application until its fee is paid.
func (e *Engine) SubmitApplication(ctx context.Context, in ApplicationInput) (*models.PendingApplication, *models.Course, error) {
	course, err := e.store.FindCourse(ctx, in.CourseID)
	if err != nil {
		return nil, nil, err
	}
	if !course.Active {
		return nil, nil, apperrors.Validation("Course %s is not open for applications", course.Name)
	}

	now := e.now()
	app := &models.PendingApplication{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:     strings.TrimSpace(in.Phone),
		CourseID:  course.ID,
		ExpiresAt: now.Add(e.appTTL),
	}

	// application numbers are random; a clash just draws again
	for attempt := 0; attempt < applicationNumberAttempts; attempt++ {
		app.ID = 0
		if app.ApplicationNumber, err = e.freeApplicationNumber(ctx, now); err != nil {
			return nil, nil, err
		}
		err = e.store.CreatePendingApplication(ctx, app)
		if !errors.Is(err, apperrors.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, nil, err
	}

	logrus.WithFields(logrus.Fields{
		"application_number": app.ApplicationNumber,
		"course_id":          course.ID,
		"expires_at":         app.ExpiresAt,
	}).Info("Application submitted")
	return app, course, nil
}

const applicationNumberAttempts = 3

// freeApplicationNumber draws a number held by neither a student nor a pending application.
func (e *Engine) freeApplicationNumber(ctx context.Context, now time.Time) (string, error) {
	for attempt := 0; attempt < applicationNumberAttempts; attempt++ {
		number := NewApplicationNumber(now, e.intn)
		taken, err := e.store.ApplicationNumberInUse(ctx, number)
		if err != nil {
			return "", err
		}
		if !taken {
			return number, nil
		}
	}
	return "", apperrors.Conflict("Could not allocate a free application number; try again")
}

// CreateSeededStudent inserts a staff-created student with status Applied under a
// fresh application number. The student pays the registration fee like any applicant.
func (e *Engine) CreateSeededStudent(ctx context.Context, student *models.Student) error {
	number, err := e.freeApplicationNumber(ctx, e.now())
	if err != nil {
		return err
	}
	student.ID = 0
	student.Status = models.StudentApplied
	student.ApplicationNumber = number
	if err := e.store.CreateStudent(ctx, student); err != nil {
		// the number was free a moment ago, so a clash is the email
		if errors.Is(err, apperrors.ErrConflict) {
			return apperrors.Conflict("A student with email %s already exists", student.Email)
		}
		return err
	}
	logrus.WithFields(logrus.Fields{
		"student_id":         student.ID,
		"application_number": student.ApplicationNumber,
	}).Info("Student created by staff")
	return nil
}

// VerifyApplicationPayment confirms the application fee and turns the pending
// application into a Student with status Applied.
func (e *Engine) VerifyApplicationPayment(ctx context.Context, reference, applicationNumber string) (*StudentState, error) {
	reference = strings.TrimSpace(reference)
	applicationNumber = strings.TrimSpace(applicationNumber)
	if reference == "" {
		return nil, apperrors.Validation("reference is required")
	}
	if applicationNumber == "" {
		return nil, apperrors.Validation("applicationNumber is required")
	}

	release, err := e.locker.Acquire(ctx, reference, e.lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	if state, done, err := e.replayApplication(ctx, e.store, reference, applicationNumber); done || err != nil {
		return state, err
	}

	tx, amountMinor, err := e.verifiedAmount(ctx, reference)
	if err != nil {
		return nil, err
	}

	var (
		state *StudentState
		reply bool
	)
	err = e.store.Transaction(ctx, func(store Store) error {
		if s, done, err := e.replayApplication(ctx, store, reference, applicationNumber); done || err != nil {
			state, reply = s, done
			return err
		}

		now := e.now()
		pending, err := store.FindPendingApplication(ctx, applicationNumber, now)
		if err != nil {
			return err
		}
		course, err := store.FindCourse(ctx, pending.CourseID)
		if err != nil {
			return err
		}
		if amountMinor < ToMinor(course.ApplicationFee) {
			return apperrors.GatewayVerification(nil, "Amount paid is below the application fee")
		}

		student := &models.Student{
			FirstName:         pending.FirstName,
			LastName:          pending.LastName,
			Email:             pending.Email,
			Phone:             pending.Phone,
			ApplicationNumber: pending.ApplicationNumber,
			CourseID:          course.ID,
			Status:            models.StudentApplied,
		}
		if err := store.CreateStudent(ctx, student); err != nil {
			return err
		}
		student.Course = *course

		payment := gatewayPayment(tx, now)
		payment.Reference = reference
		payment.StudentID = student.ID
		payment.PaymentType = models.PaymentTypeApplication
		payment.Amount = FromMinor(amountMinor)
		payment.InstallmentNumber = 1
		payment.TotalInstallments = 1
		payment.InstallmentType = models.InstallmentTypeFull
		payment.InstallmentPhase = models.PhaseFull
		payment.Status = models.PaymentCompleted
		if err := store.CreatePayment(ctx, &payment); err != nil {
			return err
		}

		if err := store.DeletePendingApplication(ctx, pending.ID); err != nil {
			return err
		}

		state, err = e.state(ctx, store, student)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"student_id":         student.ID,
			"application_number": student.ApplicationNumber,
			"reference":          reference,
		}).Info("Application payment reconciled")
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reply {
		return state, nil
	}

	e.publish(ctx, Event{
		Type:        EventApplicationPaid,
		StudentID:   state.ID,
		Reference:   reference,
		PaymentType: models.PaymentTypeApplication,
		Amount:      FromMinor(amountMinor),
		State:       state,
		OccurredAt:  e.now(),
	})
	return state, nil
}

func (e *Engine) replayApplication(ctx context.Context, store Store, reference, applicationNumber string) (*StudentState, bool, error) {
	existing, err := store.FindPaymentByReference(ctx, reference)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, nil
	}
	if existing.PaymentType != models.PaymentTypeApplication {
		return nil, true, apperrors.Conflict("Payment reference %s belongs to another payment", reference)
	}
	student, err := store.FindStudent(ctx, existing.StudentID)
	if err != nil {
		return nil, true, err
	}
	if student.ApplicationNumber != applicationNumber {
		return nil, true, apperrors.Conflict("Payment reference %s belongs to another application", reference)
	}
	state, err := e.state(ctx, store, student)
	return state, true, err
}

// ExpirePendingApplications deletes applications whose fee never arrived.
func (e *Engine) ExpirePendingApplications(ctx context.Context) (int64, error) {
	n, err := e.store.DeleteExpiredPendingApplications(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logrus.WithField("deleted", n).Info("Expired pending applications removed")
	}
	return n, nil
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(ctx, ev)
}
