package models

import (
	"database/sql/driver"
	"time"
)

// Base model with common fields. Rows are hard-deleted; payments cascade with their student.
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JSON field type for GORM
type JSON []byte

func (j JSON) Value() (driver.Value, error) {
	if j.IsNull() {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = append((*j)[0:0], v...)
	}
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	if j == nil {
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}

func (j JSON) IsNull() bool {
	return len(j) == 0 || string(j) == "null"
}

// Student lifecycle. Applied -> Registered -> Active; Suspended and Completed are terminal.
const (
	StudentApplied    = "Applied"
	StudentRegistered = "Registered"
	StudentActive     = "Active"
	StudentSuspended  = "Suspended"
	StudentCompleted  = "Completed"
)

const (
	PaymentTypeApplication  = "Application"
	PaymentTypeRegistration = "Registration"
	PaymentTypeExam         = "Exam"
	PaymentTypeCertificate  = "Certificate"
)

const (
	PaymentPending   = "Pending"
	PaymentCompleted = "Completed"
	PaymentFailed    = "Failed"
)

// Persisted installment_type column. Only two values are stored.
const (
	InstallmentTypeFull = "full"
	InstallmentTypeHalf = "half"
)

// Installment phase, stored alongside installment_type so first/second stay distinguishable.
const (
	PhaseFirst  = "first"
	PhaseSecond = "second"
	PhaseFull   = "full"
)

const (
	CertificationCertificate = "Certificate"
	CertificationDiploma     = "Diploma"
)

// Staff roles plus the student principal.
const (
	RoleAdmin          = "Admin"
	RoleDeputyAdmin    = "Deputy Admin"
	RoleAssistantAdmin = "Assistant Admin"
	RoleInstructor     = "Instructor"
	RoleStudent        = "Student"
)

// Course model
type Course struct {
	BaseModel
	Name              string  `json:"name" gorm:"size:255;not null"`
	Code              string  `json:"code" gorm:"size:50;not null;uniqueIndex"`
	Abbreviation      string  `json:"abbreviation" gorm:"size:20"`
	CertificationType string  `json:"certification_type" gorm:"size:20;not null;default:'Certificate';type:enum('Certificate','Diploma')"`
	ApplicationFee    float64 `json:"application_fee" gorm:"type:decimal(12,2);not null;default:0"`
	RegistrationFee   float64 `json:"registration_fee" gorm:"type:decimal(12,2);not null"`
	Duration          string  `json:"duration" gorm:"size:100"`
	Schedule          string  `json:"schedule" gorm:"size:255"`
	Description       string  `json:"description" gorm:"type:text"`
	Active            bool    `json:"active" gorm:"default:true"`
}

// Student model
type Student struct {
	BaseModel
	FirstName               string     `json:"first_name" gorm:"size:100;not null"`
	LastName                string     `json:"last_name" gorm:"size:100;not null"`
	Email                   string     `json:"email" gorm:"size:255;not null;uniqueIndex"`
	Phone                   string     `json:"phone" gorm:"size:30"`
	ApplicationNumber       string     `json:"application_number" gorm:"size:50;not null;uniqueIndex"`
	AdmissionNumber         *string    `json:"admission_number" gorm:"size:50;uniqueIndex"`
	CourseID                uint       `json:"course_id" gorm:"not null;index"`
	Status                  string     `json:"status" gorm:"size:20;not null;default:'Applied';type:enum('Applied','Registered','Active','Suspended','Completed')"`
	PasswordHash            string     `json:"-" gorm:"size:255"`
	SecurityQuestion        string     `json:"security_question,omitempty" gorm:"size:255"`
	SecurityAnswerHash      string     `json:"-" gorm:"size:255"`
	Gender                  string     `json:"gender" gorm:"size:20"`
	DateOfBirth             *time.Time `json:"date_of_birth"`
	Address                 string     `json:"address" gorm:"size:500"`
	NextOfKin               string     `json:"next_of_kin" gorm:"size:200"`
	NextOfKinPhone          string     `json:"next_of_kin_phone" gorm:"size:30"`
	PhotoURL                string     `json:"photo_url" gorm:"size:500"`
	RegistrationCompletedAt *time.Time `json:"registration_completed_at"`

	// Relationships
	Course         Course                  `json:"course,omitempty" gorm:"foreignKey:CourseID"`
	Payments       []Payment               `json:"payments,omitempty" gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE"`
	Qualifications []QualificationDocument `json:"qualifications,omitempty" gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE"`
}

// FullName joins first and last name.
func (s *Student) FullName() string {
	if s.LastName == "" {
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

// HasPassword reports whether the security setup step is done.
func (s *Student) HasPassword() bool {
	return s.PasswordHash != ""
}

// Payment is one accepted gateway transaction. Rows are append-only.
type Payment struct {
	BaseModel
	StudentID         uint       `json:"student_id" gorm:"not null;index"`
	PaymentType       string     `json:"payment_type" gorm:"size:20;not null;type:enum('Application','Registration','Exam','Certificate')"`
	Amount            float64    `json:"amount" gorm:"type:decimal(12,2);not null"`
	InstallmentNumber int        `json:"installment_number" gorm:"not null;default:1"`
	TotalInstallments int        `json:"total_installments" gorm:"not null;default:1"`
	InstallmentType   string     `json:"installment_type" gorm:"size:10;not null;default:'full';type:enum('full','half')"`
	InstallmentPhase  string     `json:"installment_phase" gorm:"size:10;not null;default:'full';type:enum('first','second','full')"`
	Status            string     `json:"status" gorm:"size:20;not null;default:'Pending';type:enum('Pending','Completed','Failed')"`
	Reference         string     `json:"reference" gorm:"size:100;not null;uniqueIndex"`
	Gateway           string     `json:"gateway" gorm:"size:30"`
	Currency          string     `json:"currency" gorm:"size:10"`
	GatewayResponse   JSON       `json:"gateway_response,omitempty" gorm:"type:json"`
	PaidAt            *time.Time `json:"paid_at"`
}

// PendingApplication bridges application submission and the application-fee payment.
type PendingApplication struct {
	BaseModel
	ApplicationNumber string    `json:"application_number" gorm:"size:50;not null;uniqueIndex"`
	FirstName         string    `json:"first_name" gorm:"size:100;not null"`
	LastName          string    `json:"last_name" gorm:"size:100;not null"`
	Email             string    `json:"email" gorm:"size:255;not null;index"`
	Phone             string    `json:"phone" gorm:"size:30"`
	CourseID          uint      `json:"course_id" gorm:"not null"`
	ExpiresAt         time.Time `json:"expires_at" gorm:"not null;index"`
}

// QualificationDocument is a file uploaded during complete-registration.
type QualificationDocument struct {
	BaseModel
	StudentID   uint   `json:"student_id" gorm:"not null;index"`
	Title       string `json:"title" gorm:"size:255"`
	FileURL     string `json:"file_url" gorm:"size:500;not null"`
	ContentType string `json:"content_type" gorm:"size:100"`
	Size        int64  `json:"size"`
}

// User is a staff login account.
type User struct {
	BaseModel
	Username     string     `json:"username" gorm:"size:100;not null;uniqueIndex"`
	PasswordHash string     `json:"-" gorm:"size:255;not null"`
	Email        string     `json:"email" gorm:"size:255;uniqueIndex"`
	Role         string     `json:"role" gorm:"size:30;not null;type:enum('Admin','Deputy Admin','Assistant Admin','Instructor')"`
	Status       string     `json:"status" gorm:"size:20;not null;default:'active';type:enum('active','inactive','suspended')"`
	LastLoginAt  *time.Time `json:"last_login_at"`

	Staff *Staff `json:"staff,omitempty" gorm:"foreignKey:UserID"`
}

// Staff is the HR profile of an employee. It may or may not have a login account.
type Staff struct {
	BaseModel
	UserID      *uint  `json:"user_id" gorm:"uniqueIndex"`
	StaffNumber string `json:"staff_number" gorm:"size:50;not null;uniqueIndex"`
	FirstName   string `json:"first_name" gorm:"size:100;not null"`
	LastName    string `json:"last_name" gorm:"size:100;not null"`
	Email       string `json:"email" gorm:"size:255"`
	Phone       string `json:"phone" gorm:"size:30"`
	Position    string `json:"position" gorm:"size:100"`
	Department  string `json:"department" gorm:"size:100"`
	PhotoURL    string `json:"photo_url" gorm:"size:500"`
	Active      bool   `json:"active" gorm:"default:true"`
}

// FullName joins first and last name.
func (s *Staff) FullName() string {
	return s.FirstName + " " + s.LastName
}

// Resource is learning material published for a course (or for everyone when CourseID is nil).
type Resource struct {
	BaseModel
	Title           string `json:"title" gorm:"size:255;not null"`
	Description     string `json:"description" gorm:"type:text"`
	CourseID        *uint  `json:"course_id" gorm:"index"`
	ResourceType    string `json:"resource_type" gorm:"size:20;not null;default:'document';type:enum('document','link','video')"`
	URL             string `json:"url" gorm:"size:500"`
	CreatedByUserID uint   `json:"created_by_user_id"`

	Course *Course `json:"course,omitempty" gorm:"foreignKey:CourseID"`
}

// Assignment model
type Assignment struct {
	BaseModel
	CourseID        uint       `json:"course_id" gorm:"not null;index"`
	Title           string     `json:"title" gorm:"size:255;not null"`
	Description     string     `json:"description" gorm:"type:text"`
	DueDate         *time.Time `json:"due_date"`
	MaxScore        float64    `json:"max_score" gorm:"type:decimal(6,2);not null;default:100"`
	CreatedByUserID uint       `json:"created_by_user_id"`

	Grades []AssignmentGrade `json:"grades,omitempty" gorm:"foreignKey:AssignmentID;constraint:OnDelete:CASCADE"`
}

// AssignmentGrade stores one score per student per assignment.
type AssignmentGrade struct {
	BaseModel
	AssignmentID   uint    `json:"assignment_id" gorm:"not null;uniqueIndex:idx_grade_assignment_student"`
	StudentID      uint    `json:"student_id" gorm:"not null;uniqueIndex:idx_grade_assignment_student"`
	Score          float64 `json:"score" gorm:"type:decimal(6,2);not null"`
	Feedback       string  `json:"feedback" gorm:"type:text"`
	GradedByUserID uint    `json:"graded_by_user_id"`
}

// AssignmentSubmission is a student's uploaded work.
type AssignmentSubmission struct {
	BaseModel
	AssignmentID uint      `json:"assignment_id" gorm:"not null;index"`
	StudentID    uint      `json:"student_id" gorm:"not null;index"`
	FileURL      string    `json:"file_url" gorm:"size:500;not null"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// ActivityLog tracks mutating requests by staff and students.
type ActivityLog struct {
	BaseModel
	ActorID    uint   `json:"actor_id"`
	ActorType  string `json:"actor_type" gorm:"size:20;not null;default:'system'"` // staff, student, system
	Action     string `json:"action" gorm:"size:100;not null"`
	Resource   string `json:"resource" gorm:"size:100;not null"`
	ResourceID uint   `json:"resource_id"`
	Details    JSON   `json:"details" gorm:"type:json"`
	IPAddress  string `json:"ip_address" gorm:"size:45"`
	UserAgent  string `json:"user_agent" gorm:"size:500"`
}

// LogArchive records an activity-log export uploaded to object storage.
type LogArchive struct {
	BaseModel
	FileName    string    `json:"file_name" gorm:"size:255;not null"`
	S3Key       string    `json:"s3_key" gorm:"size:500;not null"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	RecordCount int       `json:"record_count"`
	FileSize    int64     `json:"file_size"`
	Status      string    `json:"status" gorm:"size:20;not null;default:'completed'"`
}

// LineGroup is a LINE group the bot has joined. Active groups receive staff notices.
type LineGroup struct {
	BaseModel
	GroupID      string     `json:"group_id" gorm:"size:100;uniqueIndex;not null"`
	GroupName    string     `json:"group_name" gorm:"size:255"`
	IsActive     bool       `json:"is_active" gorm:"default:true"`
	LastJoinedAt time.Time  `json:"last_joined_at"`
	LastLeftAt   *time.Time `json:"last_left_at"`
}
