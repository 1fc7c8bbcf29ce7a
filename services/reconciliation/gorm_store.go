package reconciliation

import (
	"context"
	"errors"
	"time"

	"schoolreg/apperrors"
	"schoolreg/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on MySQL through GORM.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) FindStudent(ctx context.Context, id uint) (*models.Student, error) {
	var student models.Student
	if err := s.conn(ctx).Preload("Course").First(&student, id).Error; err != nil {
		return nil, notFoundOr(err, "Student not found")
	}
	return &student, nil
}

func (s *GormStore) LockStudent(ctx context.Context, id uint) (*models.Student, error) {
	var student models.Student
	err := s.conn(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Course").
		First(&student, id).Error
	if err != nil {
		return nil, notFoundOr(err, "Student not found")
	}
	return &student, nil
}

func (s *GormStore) FindStudentByApplicationNumber(ctx context.Context, number string) (*models.Student, error) {
	var student models.Student
	if err := s.conn(ctx).Preload("Course").Where("application_number = ?", number).First(&student).Error; err != nil {
		return nil, notFoundOr(err, "Student not found")
	}
	return &student, nil
}

func (s *GormStore) FindStudentByAdmissionNumber(ctx context.Context, number string) (*models.Student, error) {
	var student models.Student
	if err := s.conn(ctx).Preload("Course").Where("admission_number = ?", number).First(&student).Error; err != nil {
		return nil, notFoundOr(err, "Student not found")
	}
	return &student, nil
}

func (s *GormStore) CreateStudent(ctx context.Context, student *models.Student) error {
	if err := s.conn(ctx).Omit(clause.Associations).Create(student).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("A student with this email or application number already exists")
		}
		return apperrors.Database(err, "failed to create student")
	}
	return nil
}

func (s *GormStore) SetAdmissionNumber(ctx context.Context, studentID uint, number string) error {
	res := s.conn(ctx).Model(&models.Student{}).
		Where("id = ? AND admission_number IS NULL", studentID).
		Update("admission_number", number)
	if res.Error != nil {
		// a collision is fatal for the request; the caller must not retry
		return apperrors.Database(res.Error, "failed to assign admission number")
	}
	if res.RowsAffected == 0 {
		return apperrors.Conflict("Admission number already assigned")
	}
	return nil
}

func (s *GormStore) AdvanceStudentStatus(ctx context.Context, studentID uint, from, to string) error {
	err := s.conn(ctx).Model(&models.Student{}).
		Where("id = ? AND status = ?", studentID, from).
		Update("status", to).Error
	if err != nil {
		return apperrors.Database(err, "failed to update student status")
	}
	return nil
}

func (s *GormStore) FindCourse(ctx context.Context, id uint) (*models.Course, error) {
	var course models.Course
	if err := s.conn(ctx).First(&course, id).Error; err != nil {
		return nil, notFoundOr(err, "Course not found")
	}
	return &course, nil
}

func (s *GormStore) RegistrationPayments(ctx context.Context, studentID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.conn(ctx).
		Where("student_id = ? AND payment_type = ? AND status <> ?", studentID, models.PaymentTypeRegistration, models.PaymentFailed).
		Order("id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, apperrors.Database(err, "failed to load payments")
	}
	return payments, nil
}

func (s *GormStore) FindPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := s.conn(ctx).Where("reference = ?", reference).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database(err, "failed to load payment")
	}
	return &payment, nil
}

func (s *GormStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if err := s.conn(ctx).Create(payment).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("Payment reference %s was already recorded", payment.Reference)
		}
		return apperrors.Database(err, "failed to record payment")
	}
	return nil
}

func (s *GormStore) CloseInstallments(ctx context.Context, studentID uint) error {
	err := s.conn(ctx).Model(&models.Payment{}).
		Where("student_id = ? AND payment_type = ?", studentID, models.PaymentTypeRegistration).
		Update("installment_type", models.InstallmentTypeFull).Error
	if err != nil {
		return apperrors.Database(err, "failed to update installments")
	}
	return nil
}

func (s *GormStore) ApplicationNumberInUse(ctx context.Context, number string) (bool, error) {
	var n int64
	if err := s.conn(ctx).Model(&models.Student{}).Where("application_number = ?", number).Count(&n).Error; err != nil {
		return false, apperrors.Database(err, "failed to check application number")
	}
	if n > 0 {
		return true, nil
	}
	if err := s.conn(ctx).Model(&models.PendingApplication{}).Where("application_number = ?", number).Count(&n).Error; err != nil {
		return false, apperrors.Database(err, "failed to check application number")
	}
	return n > 0, nil
}

func (s *GormStore) CreatePendingApplication(ctx context.Context, app *models.PendingApplication) error {
	if err := s.conn(ctx).Create(app).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("Application number %s already issued", app.ApplicationNumber)
		}
		return apperrors.Database(err, "failed to save application")
	}
	return nil
}

func (s *GormStore) FindPendingApplication(ctx context.Context, number string, now time.Time) (*models.PendingApplication, error) {
	var app models.PendingApplication
	err := s.conn(ctx).
		Where("application_number = ? AND expires_at > ?", number, now).
		First(&app).Error
	if err != nil {
		return nil, notFoundOr(err, "Pending application not found or expired")
	}
	return &app, nil
}

func (s *GormStore) DeletePendingApplication(ctx context.Context, id uint) error {
	if err := s.conn(ctx).Delete(&models.PendingApplication{}, id).Error; err != nil {
		return apperrors.Database(err, "failed to discard pending application")
	}
	return nil
}

func (s *GormStore) DeleteExpiredPendingApplications(ctx context.Context, now time.Time) (int64, error) {
	res := s.conn(ctx).Where("expires_at <= ?", now).Delete(&models.PendingApplication{})
	if res.Error != nil {
		return 0, apperrors.Database(res.Error, "failed to delete expired applications")
	}
	return res.RowsAffected, nil
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound("%s", msg)
	}
	return apperrors.Database(err, "%s", msg)
}
