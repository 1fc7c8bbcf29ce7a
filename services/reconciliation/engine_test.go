package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"schoolreg/apperrors"
	"schoolreg/models"
	"schoolreg/services/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, time.March, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store    *memStore
	verifier *fakeVerifier
	sink     *recordingSink
	engine   *Engine
	course   models.Course
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		verifier: newFakeVerifier(),
		sink:     &recordingSink{},
	}
	f.course = f.store.addCourse(models.Course{
		Name:              "Web Development",
		Code:              "WD101",
		Abbreviation:      "wd",
		CertificationType: models.CertificationCertificate,
		ApplicationFee:    25,
		RegistrationFee:   275,
		Active:            true,
	})
	f.engine = NewEngine(f.store, f.verifier,
		WithClock(func() time.Time { return fixedNow }),
		WithRandom(func(n int) int { return 42 % n }),
		WithEventSink(f.sink),
	)
	return f
}

func (f *fixture) applicant() models.Student {
	return f.store.addStudent(models.Student{
		FirstName:         "Amina",
		LastName:          "Okafor",
		Email:             "amina@example.com",
		ApplicationNumber: "APP2026000001",
		CourseID:          f.course.ID,
	})
}

func sumAmounts(payments []models.Payment) float64 {
	var minor int64
	for _, p := range payments {
		if p.PaymentType == models.PaymentTypeRegistration {
			minor += ToMinor(p.Amount)
		}
	}
	return FromMinor(minor)
}

func TestInstallmentSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	student := f.applicant()

	f.verifier.settle("REF-1", 13750)
	state, err := f.engine.VerifyRegistrationPayment(ctx, "REF-1", student.ID, "")
	require.NoError(t, err)

	assert.Equal(t, models.PhaseFirst, state.InstallmentType)
	assert.Equal(t, 137.5, state.TotalPaid)
	assert.Equal(t, 137.5, state.Balance)
	assert.Equal(t, StatusPartial, state.PaymentStatus)
	assert.Equal(t, []string{"Installment"}, state.PaymentOptions)
	assert.Equal(t, StepSetupSecurity, state.NextStep)
	assert.Equal(t, "WD/2026/CERT/042", state.AdmissionNumber)

	rows := f.store.paymentsOf(student.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.InstallmentTypeHalf, rows[0].InstallmentType)
	assert.Equal(t, models.PhaseFirst, rows[0].InstallmentPhase)
	assert.Equal(t, models.PaymentPending, rows[0].Status)
	assert.Equal(t, 1, rows[0].InstallmentNumber)
	assert.Equal(t, 2, rows[0].TotalInstallments)
	assert.Equal(t, models.StudentApplied, f.store.student(student.ID).Status)

	f.store.setPassword(student.ID, "$2a$10$hash")

	f.verifier.settle("REF-2", 13750)
	state, err = f.engine.VerifyRegistrationPayment(ctx, "REF-2", student.ID, "")
	require.NoError(t, err)

	assert.Equal(t, models.PhaseSecond, state.InstallmentType)
	assert.Equal(t, 2, state.InstallmentNumber)
	assert.Equal(t, 275.0, state.TotalPaid)
	assert.Equal(t, 0.0, state.Balance)
	assert.Equal(t, StatusCompleted, state.PaymentStatus)
	assert.Equal(t, []string{}, state.PaymentOptions)
	assert.Equal(t, StepDownloadReceipt, state.NextStep)
	assert.Equal(t, "WD/2026/CERT/042", state.AdmissionNumber)
	assert.Equal(t, models.StudentRegistered, state.Status)

	rows = f.store.paymentsOf(student.ID)
	require.Len(t, rows, 2)
	// the second installment closes out the rows recorded before it
	assert.Equal(t, models.InstallmentTypeFull, rows[0].InstallmentType)
	assert.Equal(t, models.InstallmentTypeHalf, rows[1].InstallmentType)
	assert.Equal(t, models.PaymentCompleted, rows[1].Status)
	assert.Equal(t, models.PhaseSecond, rows[1].InstallmentPhase)
	assert.Equal(t, state.TotalPaid, sumAmounts(rows))

	require.Len(t, f.sink.events, 2)
	assert.Equal(t, EventPaymentReconciled, f.sink.events[1].Type)
	assert.Equal(t, models.PhaseSecond, f.sink.events[1].Phase)
}

func TestFirstInstallmentWithPasswordAsksForSecond(t *testing.T) {
	f := newFixture(t)
	student := f.applicant()
	f.store.setPassword(student.ID, "$2a$10$hash")

	f.verifier.settle("REF-1", 13750)
	state, err := f.engine.VerifyRegistrationPayment(context.Background(), "REF-1", student.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StepPaySecondInstalment, state.NextStep)
}

func TestSecondHintOnFirstPaymentStillAdmits(t *testing.T) {
	f := newFixture(t)
	student := f.applicant()

	f.verifier.settle("REF-1", 13750)
	state, err := f.engine.VerifyRegistrationPayment(context.Background(), "REF-1", student.ID, "second")
	require.NoError(t, err)

	assert.Equal(t, models.PhaseFirst, state.InstallmentType)
	assert.Equal(t, "WD/2026/CERT/042", state.AdmissionNumber)
	assert.Equal(t, StepSetupSecurity, state.NextStep)

	rows := f.store.paymentsOf(student.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.PhaseFirst, rows[0].InstallmentPhase)
	assert.Equal(t, 1, rows[0].InstallmentNumber)
}

func TestFullPayment(t *testing.T) {
	f := newFixture(t)
	student := f.applicant()

	f.verifier.settle("REF-FULL", 27500)
	state, err := f.engine.VerifyRegistrationPayment(context.Background(), "REF-FULL", student.ID, "")
	require.NoError(t, err)

	rows := f.store.paymentsOf(student.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].TotalInstallments)
	assert.Equal(t, models.InstallmentTypeFull, rows[0].InstallmentType)
	assert.Equal(t, models.PaymentCompleted, rows[0].Status)
	assert.Equal(t, 275.0, rows[0].Amount)

	assert.Equal(t, StatusCompleted, state.PaymentStatus)
	assert.Equal(t, "WD/2026/CERT/042", state.AdmissionNumber)
	assert.Equal(t, StepSetupSecurity, state.NextStep)
	assert.Equal(t, models.StudentRegistered, f.store.student(student.ID).Status)
}

func TestDuplicateReferenceIsNotCountedTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	student := f.applicant()
	f.verifier.settle("REF-1", 13750)

	first, err := f.engine.VerifyRegistrationPayment(ctx, "REF-1", student.ID, "")
	require.NoError(t, err)
	again, err := f.engine.VerifyRegistrationPayment(ctx, "REF-1", student.ID, "")
	require.NoError(t, err)

	assert.Equal(t, first.TotalPaid, again.TotalPaid)
	assert.Len(t, f.store.paymentsOf(student.ID), 1)
	assert.Equal(t, 1, f.verifier.calls, "replay must not hit the gateway")
	assert.Len(t, f.sink.events, 1)
}

func TestReferenceOfAnotherStudentIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.applicant()
	b := f.store.addStudent(models.Student{
		FirstName: "Tunde", LastName: "Bello", Email: "tunde@example.com",
		ApplicationNumber: "APP2026000002", CourseID: f.course.ID,
	})
	f.verifier.settle("REF-1", 13750)

	_, err := f.engine.VerifyRegistrationPayment(ctx, "REF-1", a.ID, "")
	require.NoError(t, err)
	_, err = f.engine.VerifyRegistrationPayment(ctx, "REF-1", b.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Empty(t, f.store.paymentsOf(b.ID))
}

func TestGatewayFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(v *fakeVerifier)
	}{
		{"unknown reference", func(v *fakeVerifier) {}},
		{"gateway error", func(v *fakeVerifier) { v.err = errors.New("connection reset") }},
		{"abandoned", func(v *fakeVerifier) {
			v.add(&gateway.Transaction{Reference: "REF", Status: "abandoned", AmountMinor: 27500})
		}},
		{"zero amount", func(v *fakeVerifier) {
			v.add(&gateway.Transaction{Reference: "REF", Status: gateway.StatusSuccess})
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			student := f.applicant()
			tc.setup(f.verifier)

			_, err := f.engine.VerifyRegistrationPayment(context.Background(), "REF", student.ID, "")
			assert.ErrorIs(t, err, apperrors.ErrGatewayVerification)
			assert.Equal(t, 400, apperrors.HTTPStatus(err))
			assert.Empty(t, f.store.paymentsOf(student.ID))
			assert.Nil(t, f.store.student(student.ID).AdmissionNumber)
		})
	}
}

func TestRegistrationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.VerifyRegistrationPayment(ctx, " ", 1, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.engine.VerifyRegistrationPayment(ctx, "REF", 0, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.engine.VerifyRegistrationPayment(ctx, "REF", 1, "quarter")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	f.verifier.settle("REF", 1000)
	_, err = f.engine.VerifyRegistrationPayment(ctx, "REF", 999, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAdmissionNumberIsNeverReassigned(t *testing.T) {
	f := newFixture(t)
	existing := "WD/2025/CERT/007"
	student := f.store.addStudent(models.Student{
		FirstName: "Seeded", LastName: "Student", Email: "seeded@example.com",
		ApplicationNumber: "APP2025000777", AdmissionNumber: &existing, CourseID: f.course.ID,
	})

	state, err := f.engine.Lookup(context.Background(), existing, "admission")
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, state.PaymentStatus, "admitted with nothing paid")
	assert.Equal(t, []string{"Installment"}, state.PaymentOptions)
	assert.Equal(t, StepPayRegistration, state.NextStep)

	f.verifier.settle("REF-1", 27500)
	state, err = f.engine.VerifyRegistrationPayment(context.Background(), "REF-1", student.ID, "full")
	require.NoError(t, err)
	assert.Equal(t, existing, state.AdmissionNumber)
	assert.Equal(t, existing, *f.store.student(student.ID).AdmissionNumber)
}

func TestAdmissionNumberCollisionIsFatal(t *testing.T) {
	f := newFixture(t)
	taken := "WD/2026/CERT/042"
	f.store.addStudent(models.Student{
		FirstName: "Other", LastName: "Student", Email: "other@example.com",
		ApplicationNumber: "APP2026000099", AdmissionNumber: &taken, CourseID: f.course.ID,
	})
	student := f.applicant()
	f.verifier.settle("REF-1", 13750)

	_, err := f.engine.VerifyRegistrationPayment(context.Background(), "REF-1", student.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	assert.Equal(t, 500, apperrors.HTTPStatus(err))
	assert.Empty(t, f.store.paymentsOf(student.ID))
	assert.Nil(t, f.store.student(student.ID).AdmissionNumber)
	assert.Equal(t, 1, f.verifier.calls, "no retry")
	assert.Empty(t, f.sink.events)
}

func TestHalfHintResolvesByHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	student := f.applicant()

	f.verifier.settle("REF-1", 20000)
	state, err := f.engine.VerifyRegistrationPayment(ctx, "REF-1", student.ID, "half")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFirst, state.InstallmentType)

	f.verifier.settle("REF-2", 7500)
	state, err = f.engine.VerifyRegistrationPayment(ctx, "REF-2", student.ID, "half")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSecond, state.InstallmentType)
	assert.Equal(t, StatusCompleted, state.PaymentStatus)
}

func TestApplicationPaymentWithoutPendingRecord(t *testing.T) {
	f := newFixture(t)
	f.verifier.settle("APP-REF", 2500)

	_, err := f.engine.VerifyApplicationPayment(context.Background(), "APP-REF", "APP2026123456")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, lookupErr := f.store.FindStudentByApplicationNumber(context.Background(), "APP2026123456")
	assert.ErrorIs(t, lookupErr, apperrors.ErrNotFound)
	assert.Empty(t, f.store.payments)
}

func TestApplicationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, course, err := f.engine.SubmitApplication(ctx, ApplicationInput{
		FirstName: "Ngozi", LastName: "Eze", Email: " Ngozi@Example.com ", Phone: "0801", CourseID: f.course.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "APP2026000042", pending.ApplicationNumber)
	assert.Equal(t, "ngozi@example.com", pending.Email)
	assert.Equal(t, fixedNow.Add(72*time.Hour), pending.ExpiresAt)
	assert.Equal(t, 25.0, course.ApplicationFee)

	_, err = f.engine.Lookup(ctx, pending.ApplicationNumber, "application")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	f.verifier.settle("APP-REF", 2500)
	state, err := f.engine.VerifyApplicationPayment(ctx, "APP-REF", pending.ApplicationNumber)
	require.NoError(t, err)

	assert.Equal(t, models.StudentApplied, state.Status)
	assert.Equal(t, StatusPending, state.PaymentStatus)
	assert.Equal(t, []string{"Full", "Installment"}, state.PaymentOptions)
	assert.Equal(t, StepPayRegistration, state.NextStep)
	assert.Empty(t, state.AdmissionNumber)
	assert.Equal(t, 0.0, state.TotalPaid, "application fee is not part of the registration total")

	assert.Empty(t, f.store.pending)
	rows := f.store.paymentsOf(state.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.PaymentTypeApplication, rows[0].PaymentType)
	assert.Equal(t, models.PaymentCompleted, rows[0].Status)

	replay, err := f.engine.VerifyApplicationPayment(ctx, "APP-REF", pending.ApplicationNumber)
	require.NoError(t, err)
	assert.Equal(t, state.ID, replay.ID)
	assert.Len(t, f.store.students, 1)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, EventApplicationPaid, f.sink.events[0].Type)
}

func TestApplicationPaymentBelowFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending, _, err := f.engine.SubmitApplication(ctx, ApplicationInput{
		FirstName: "Low", LastName: "Payer", Email: "low@example.com", CourseID: f.course.ID,
	})
	require.NoError(t, err)

	f.verifier.settle("APP-REF", 1000)
	_, err = f.engine.VerifyApplicationPayment(ctx, "APP-REF", pending.ApplicationNumber)
	assert.ErrorIs(t, err, apperrors.ErrGatewayVerification)
	assert.Empty(t, f.store.students)
	assert.Len(t, f.store.pending, 1)
}

func TestExpiredApplications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending, _, err := f.engine.SubmitApplication(ctx, ApplicationInput{
		FirstName: "Late", LastName: "Payer", Email: "late@example.com", CourseID: f.course.ID,
	})
	require.NoError(t, err)

	later := NewEngine(f.store, f.verifier, WithClock(func() time.Time { return fixedNow.Add(73 * time.Hour) }))
	f.verifier.settle("APP-REF", 2500)
	_, err = later.VerifyApplicationPayment(ctx, "APP-REF", pending.ApplicationNumber)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	n, err := later.ExpirePendingApplications(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, f.store.pending)
}

func TestSubmitApplicationRejectsClosedCourse(t *testing.T) {
	f := newFixture(t)
	closed := f.store.addCourse(models.Course{Name: "Archived", Code: "OLD", RegistrationFee: 100})

	_, _, err := f.engine.SubmitApplication(context.Background(), ApplicationInput{
		FirstName: "A", LastName: "B", Email: "a@example.com", CourseID: closed.ID,
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, _, err = f.engine.SubmitApplication(context.Background(), ApplicationInput{CourseID: 404})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLookupValidatesType(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Lookup(context.Background(), "X", "passport")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = f.engine.Lookup(context.Background(), "", "application")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

// sequence returns the given draws in order, then repeats the last one.
func sequence(draws ...int) func(int) int {
	i := 0
	return func(n int) int {
		d := draws[min(i, len(draws)-1)]
		i++
		return d % n
	}
}

func TestApplicationNumbersSkipSeededStudents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.addStudent(models.Student{
		FirstName: "Seeded", LastName: "Student", Email: "seeded@example.com",
		ApplicationNumber: "APP2026000042", CourseID: f.course.ID,
	})
	engine := NewEngine(f.store, f.verifier,
		WithClock(func() time.Time { return fixedNow }),
		WithRandom(sequence(42, 43)),
	)

	pending, _, err := engine.SubmitApplication(ctx, ApplicationInput{
		FirstName: "Ngozi", LastName: "Eze", Email: "ngozi@example.com", CourseID: f.course.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "APP2026000043", pending.ApplicationNumber)

	f.verifier.settle("APP-REF", 2500)
	state, err := engine.VerifyApplicationPayment(ctx, "APP-REF", pending.ApplicationNumber)
	require.NoError(t, err)
	assert.Equal(t, models.StudentApplied, state.Status)
}

func TestCreateSeededStudentSkipsPendingApplications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, _, err := f.engine.SubmitApplication(ctx, ApplicationInput{
		FirstName: "Ngozi", LastName: "Eze", Email: "ngozi@example.com", CourseID: f.course.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "APP2026000042", pending.ApplicationNumber)

	engine := NewEngine(f.store, f.verifier,
		WithClock(func() time.Time { return fixedNow }),
		WithRandom(sequence(42, 7)),
	)
	student := models.Student{FirstName: "Tunde", LastName: "Ade", Email: "tunde@example.com", CourseID: f.course.ID}
	require.NoError(t, engine.CreateSeededStudent(ctx, &student))
	assert.Equal(t, "APP2026000007", student.ApplicationNumber)
	assert.Equal(t, models.StudentApplied, f.store.student(student.ID).Status)

	// the applicant who already holds 000042 can still pay
	f.verifier.settle("APP-REF", 2500)
	_, err = engine.VerifyApplicationPayment(ctx, "APP-REF", pending.ApplicationNumber)
	require.NoError(t, err)
}

func TestCreateSeededStudentConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := f.applicant()

	dup := models.Student{FirstName: "Amina", LastName: "Okafor", Email: existing.Email, CourseID: f.course.ID}
	err := f.engine.CreateSeededStudent(ctx, &dup)
	require.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), existing.Email)

	// every draw lands on a taken number
	f.store.addStudent(models.Student{Email: "x@example.com", ApplicationNumber: "APP2026000042", CourseID: f.course.ID})
	other := models.Student{FirstName: "New", LastName: "Person", Email: "new@example.com", CourseID: f.course.ID}
	err = f.engine.CreateSeededStudent(ctx, &other)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Len(t, f.store.students, 2)
}
