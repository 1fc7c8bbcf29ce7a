package reconciliation

import (
	"context"
	"time"

	"schoolreg/models"
)

// Store is the persistence the engine needs. Implementations return
// *apperrors.AppError values: NotFound for missing rows, Conflict for
// uniqueness violations on user-chosen keys and Database for everything else.
type Store interface {
	// Transaction runs fn against a Store bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	FindStudent(ctx context.Context, id uint) (*models.Student, error)
	// LockStudent loads the student with its course and holds a row lock until the transaction ends.
	LockStudent(ctx context.Context, id uint) (*models.Student, error)
	FindStudentByApplicationNumber(ctx context.Context, number string) (*models.Student, error)
	FindStudentByAdmissionNumber(ctx context.Context, number string) (*models.Student, error)
	CreateStudent(ctx context.Context, student *models.Student) error
	// SetAdmissionNumber writes the number only while the column is still NULL.
	SetAdmissionNumber(ctx context.Context, studentID uint, number string) error
	// AdvanceStudentStatus moves the student from one status to the next; no-op when the current status differs.
	AdvanceStudentStatus(ctx context.Context, studentID uint, from, to string) error

	FindCourse(ctx context.Context, id uint) (*models.Course, error)

	// RegistrationPayments lists the non-failed Registration payments of a student, oldest first.
	RegistrationPayments(ctx context.Context, studentID uint) ([]models.Payment, error)
	// FindPaymentByReference returns (nil, nil) when the reference is unknown.
	FindPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	// CloseInstallments marks every Registration payment of the student as installment_type=full.
	CloseInstallments(ctx context.Context, studentID uint) error

	// ApplicationNumberInUse reports whether a student or a pending application (expired or not) holds the number.
	ApplicationNumberInUse(ctx context.Context, number string) (bool, error)
	CreatePendingApplication(ctx context.Context, app *models.PendingApplication) error
	// FindPendingApplication ignores rows that expired before now.
	FindPendingApplication(ctx context.Context, number string, now time.Time) (*models.PendingApplication, error)
	DeletePendingApplication(ctx context.Context, id uint) error
	DeleteExpiredPendingApplications(ctx context.Context, now time.Time) (int64, error)
}
