package reconciliation

import (
	"context"
	"errors"
	"sync"
	"time"

	"schoolreg/apperrors"
	"schoolreg/models"
	"schoolreg/services/gateway"
)

var errDuplicateKey = errors.New("Error 1062: Duplicate entry")

// memStore is an in-memory Store. Transaction restores a snapshot when fn fails.
type memStore struct {
	mu       sync.Mutex
	nextID   uint
	students map[uint]models.Student
	courses  map[uint]models.Course
	payments []models.Payment
	pending  map[uint]models.PendingApplication
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		students: map[uint]models.Student{},
		courses:  map[uint]models.Course{},
		pending:  map[uint]models.PendingApplication{},
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) addCourse(c models.Course) models.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	m.courses[c.ID] = c
	return c
}

func (m *memStore) addStudent(s models.Student) models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id()
	if s.Status == "" {
		s.Status = models.StudentApplied
	}
	m.students[s.ID] = s
	return s
}

func (m *memStore) setPassword(id uint, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.students[id]
	s.PasswordHash = hash
	m.students[id] = s
}

func (m *memStore) student(id uint) models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.students[id]
}

func (m *memStore) paymentsOf(studentID uint) []models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.StudentID == studentID {
			out = append(out, p)
		}
	}
	return out
}

func (m *memStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	snapshot := m.clone()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.students, m.courses, m.payments, m.pending = snapshot.students, snapshot.courses, snapshot.payments, snapshot.pending
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) clone() *memStore {
	c := newMemStore()
	for k, v := range m.students {
		c.students[k] = v
	}
	for k, v := range m.courses {
		c.courses[k] = v
	}
	for k, v := range m.pending {
		c.pending[k] = v
	}
	c.payments = append([]models.Payment(nil), m.payments...)
	return c
}

func (m *memStore) withCourse(s models.Student) *models.Student {
	s.Course = m.courses[s.CourseID]
	return &s
}

func (m *memStore) FindStudent(ctx context.Context, id uint) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return nil, apperrors.NotFound("Student not found")
	}
	return m.withCourse(s), nil
}

func (m *memStore) LockStudent(ctx context.Context, id uint) (*models.Student, error) {
	return m.FindStudent(ctx, id)
}

func (m *memStore) findStudentBy(match func(models.Student) bool) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if match(s) {
			return m.withCourse(s), nil
		}
	}
	return nil, apperrors.NotFound("Student not found")
}

func (m *memStore) FindStudentByApplicationNumber(ctx context.Context, number string) (*models.Student, error) {
	return m.findStudentBy(func(s models.Student) bool { return s.ApplicationNumber == number })
}

func (m *memStore) FindStudentByAdmissionNumber(ctx context.Context, number string) (*models.Student, error) {
	return m.findStudentBy(func(s models.Student) bool {
		return s.AdmissionNumber != nil && *s.AdmissionNumber == number
	})
}

func (m *memStore) CreateStudent(ctx context.Context, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.Email == student.Email || s.ApplicationNumber == student.ApplicationNumber {
			return apperrors.Conflict("A student with this email or application number already exists")
		}
	}
	student.ID = m.id()
	stored := *student
	stored.Course = models.Course{}
	m.students[student.ID] = stored
	return nil
}

func (m *memStore) SetAdmissionNumber(ctx context.Context, studentID uint, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.students {
		if id != studentID && s.AdmissionNumber != nil && *s.AdmissionNumber == number {
			return apperrors.Database(errDuplicateKey, "failed to assign admission number")
		}
	}
	s := m.students[studentID]
	if s.AdmissionNumber != nil {
		return apperrors.Conflict("Admission number already assigned")
	}
	s.AdmissionNumber = &number
	m.students[studentID] = s
	return nil
}

func (m *memStore) AdvanceStudentStatus(ctx context.Context, studentID uint, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.students[studentID]
	if s.Status == from {
		s.Status = to
		m.students[studentID] = s
	}
	return nil
}

func (m *memStore) FindCourse(ctx context.Context, id uint) (*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, apperrors.NotFound("Course not found")
	}
	return &c, nil
}

func (m *memStore) RegistrationPayments(ctx context.Context, studentID uint) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.StudentID == studentID && p.PaymentType == models.PaymentTypeRegistration && p.Status != models.PaymentFailed {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) FindPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.Reference == reference {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.Reference == payment.Reference {
			return apperrors.Conflict("Payment reference %s was already recorded", payment.Reference)
		}
	}
	payment.ID = m.id()
	m.payments = append(m.payments, *payment)
	return nil
}

func (m *memStore) CloseInstallments(ctx context.Context, studentID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.payments {
		if m.payments[i].StudentID == studentID && m.payments[i].PaymentType == models.PaymentTypeRegistration {
			m.payments[i].InstallmentType = models.InstallmentTypeFull
		}
	}
	return nil
}

func (m *memStore) ApplicationNumberInUse(ctx context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.ApplicationNumber == number {
			return true, nil
		}
	}
	for _, p := range m.pending {
		if p.ApplicationNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreatePendingApplication(ctx context.Context, app *models.PendingApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.ApplicationNumber == app.ApplicationNumber {
			return apperrors.Conflict("Application number %s already issued", app.ApplicationNumber)
		}
	}
	app.ID = m.id()
	m.pending[app.ID] = *app
	return nil
}

func (m *memStore) FindPendingApplication(ctx context.Context, number string, now time.Time) (*models.PendingApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.ApplicationNumber == number && p.ExpiresAt.After(now) {
			return &p, nil
		}
	}
	return nil, apperrors.NotFound("Pending application not found or expired")
}

func (m *memStore) DeletePendingApplication(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

func (m *memStore) DeleteExpiredPendingApplications(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, p := range m.pending {
		if !p.ExpiresAt.After(now) {
			delete(m.pending, id)
			n++
		}
	}
	return n, nil
}

// fakeVerifier answers from a fixed table of transactions.
type fakeVerifier struct {
	mu    sync.Mutex
	txs   map[string]*gateway.Transaction
	err   error
	calls int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{txs: map[string]*gateway.Transaction{}}
}

func (f *fakeVerifier) settle(reference string, amountMinor int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[reference] = &gateway.Transaction{
		Gateway:     "paystack",
		Reference:   reference,
		Status:      gateway.StatusSuccess,
		AmountMinor: amountMinor,
		Currency:    "NGN",
	}
}

func (f *fakeVerifier) add(tx *gateway.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.Reference] = tx
}

func (f *fakeVerifier) Verify(ctx context.Context, reference string) (*gateway.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.txs[reference], nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(ctx context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}
