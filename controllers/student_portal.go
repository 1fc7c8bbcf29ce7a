package controllers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"schoolreg/apperrors"
	"schoolreg/config"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/services/reconciliation"
	"schoolreg/storage"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StudentPortalController serves the student self-service endpoints.
type StudentPortalController struct {
	engine  *reconciliation.Engine
	storage storage.ObjectStore
}

func NewStudentPortalController(engine *reconciliation.Engine, store storage.ObjectStore) *StudentPortalController {
	return &StudentPortalController{engine: engine, storage: store}
}

// VerifyApplication returns the registration state for an application or admission number.
func (sc *StudentPortalController) VerifyApplication(c *fiber.Ctx) error {
	state, err := sc.engine.Lookup(c.UserContext(), c.Params("identifier"), c.Query("type", "application"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "student": state})
}

// SetupSecurityRequest identifies the student by details only they hold: the
// application number and email from the application plus the gateway reference
// of a registration payment.
type SetupSecurityRequest struct {
	ApplicationNumber string `json:"application_number" validate:"required,notblank,max=50"`
	Email             string `json:"email" validate:"required,email"`
	PaymentReference  string `json:"payment_reference" validate:"required,notblank,max=100"`
	Password          string `json:"password" validate:"required,min=8,max=72"`
	SecurityQuestion  string `json:"security_question" validate:"required,notblank,max=255"`
	SecurityAnswer    string `json:"security_answer" validate:"required,notblank,max=255"`
}

const setupSecurityMismatch = "Details do not match our records"

// SetupSecurity sets the student's password and security answer. It is allowed once,
// after an admission number has been issued.
func (sc *StudentPortalController) SetupSecurity(c *fiber.Ctx) error {
	var req SetupSecurityRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}
	applicationNumber := strings.TrimSpace(req.ApplicationNumber)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var student models.Student
	err := database.DB.
		Where("application_number = ? AND email = ?", applicationNumber, email).
		First(&student).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.Unauthorized(setupSecurityMismatch)
		}
		return apperrors.Database(err, "failed to load student")
	}
	if student.AdmissionNumber == nil {
		return apperrors.Forbidden("Pay the registration fee before setting up your account")
	}

	var paid int64
	err = database.DB.Model(&models.Payment{}).
		Where("student_id = ? AND reference = ? AND payment_type = ? AND status <> ?",
			student.ID, strings.TrimSpace(req.PaymentReference), models.PaymentTypeRegistration, models.PaymentFailed).
		Count(&paid).Error
	if err != nil {
		return apperrors.Database(err, "failed to check payment")
	}
	if paid == 0 {
		logrus.WithField("student_id", student.ID).Warn("Setup security rejected: payment reference mismatch")
		return apperrors.Unauthorized(setupSecurityMismatch)
	}
	if student.HasPassword() {
		return apperrors.Conflict("Account security has already been set up")
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return err
	}
	answerHash, err := utils.HashPassword(utils.NormalizeAnswer(req.SecurityAnswer))
	if err != nil {
		return err
	}

	res := database.DB.Model(&models.Student{}).
		Where("id = ? AND application_number = ? AND email = ? AND (password_hash = '' OR password_hash IS NULL)",
			student.ID, applicationNumber, email).
		Updates(map[string]interface{}{
			"password_hash":        passwordHash,
			"security_question":    strings.TrimSpace(req.SecurityQuestion),
			"security_answer_hash": answerHash,
		})
	if res.Error != nil {
		return apperrors.Database(res.Error, "failed to save account security")
	}
	if res.RowsAffected == 0 {
		return apperrors.Conflict("Account security has already been set up")
	}

	middleware.LogActivity(c, "UPDATE", "student_security", student.ID, nil)

	state, err := sc.engine.StudentState(c.UserContext(), student.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Account security set up successfully",
		"student": state,
	})
}

type StudentLoginRequest struct {
	Identifier string `json:"identifier" validate:"required,notblank"` // admission number or email
	Password   string `json:"password" validate:"required"`
}

// Login authenticates a student by admission number or email and sets the session cookie.
func (sc *StudentPortalController) Login(c *fiber.Ctx) error {
	var req StudentLoginRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	identifier := strings.TrimSpace(req.Identifier)
	var student models.Student
	err := database.DB.Preload("Course").
		Where("admission_number = ? OR email = ?", identifier, strings.ToLower(identifier)).
		First(&student).Error
	if err != nil || !student.HasPassword() {
		return apperrors.Unauthorized("Invalid credentials")
	}
	if err := utils.CheckPassword(req.Password, student.PasswordHash); err != nil {
		return apperrors.Unauthorized("Invalid credentials")
	}
	if student.Status == models.StudentSuspended {
		return apperrors.Forbidden("Student account is suspended")
	}

	token, expiresAt, err := middleware.GenerateStudentToken(&student)
	if err != nil {
		return fmt.Errorf("failed to generate token: %v", err)
	}
	middleware.SetSessionCookie(c, token, expiresAt)

	state, err := sc.engine.StudentState(c.UserContext(), student.ID)
	if err != nil {
		return err
	}

	logrus.WithField("student_id", student.ID).Info("Student logged in")
	return c.JSON(fiber.Map{
		"success":   true,
		"message":   "Login successful",
		"token":     token,
		"expiresAt": expiresAt,
		"student":   state,
	})
}

type CompleteRegistrationRequest struct {
	Gender         string `form:"gender" validate:"omitempty,oneof=male female other"`
	DateOfBirth    string `form:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Address        string `form:"address" validate:"required,notblank,max=500"`
	NextOfKin      string `form:"next_of_kin" validate:"required,notblank,max=200"`
	NextOfKinPhone string `form:"next_of_kin_phone" validate:"required,max=30"`
}

// CompleteRegistration stores the profile and qualification documents. A failed
// upload is reported as a warning; the profile is still saved.
func (sc *StudentPortalController) CompleteRegistration(c *fiber.Ctx) error {
	student, err := middleware.GetCurrentStudent(c)
	if err != nil {
		return err
	}
	if student.AdmissionNumber == nil {
		return apperrors.Forbidden("Pay the registration fee before completing registration")
	}

	var req CompleteRegistrationRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}
	dob, _ := time.Parse("2006-01-02", req.DateOfBirth)

	var files []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil {
		files = form.File["qualifications"]
	}

	var warnings []string
	var docs []models.QualificationDocument
	allowed := strings.Split(config.AppConfig.AllowedExtensions, ",")
	for _, fh := range files {
		if fh.Size > config.AppConfig.MaxFileSize {
			warnings = append(warnings, fmt.Sprintf("%s is larger than the upload limit", fh.Filename))
			continue
		}
		if !utils.IsValidFileExtension(fh.Filename, allowed) {
			warnings = append(warnings, fmt.Sprintf("%s has a file type that is not accepted", fh.Filename))
			continue
		}
		if sc.storage == nil {
			warnings = append(warnings, fmt.Sprintf("%s was not saved: file storage is unavailable", fh.Filename))
			continue
		}
		url, err := sc.storage.UploadFile(c.UserContext(), fh, "qualifications", student.ID)
		if err != nil {
			logrus.WithError(err).WithField("student_id", student.ID).Warn("Qualification upload failed")
			warnings = append(warnings, fmt.Sprintf("%s could not be uploaded", fh.Filename))
			continue
		}
		docs = append(docs, models.QualificationDocument{
			StudentID:   student.ID,
			Title:       fh.Filename,
			FileURL:     url,
			ContentType: fh.Header.Get(fiber.HeaderContentType),
			Size:        fh.Size,
		})
	}

	now := time.Now()
	err = database.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"gender":                    req.Gender,
			"date_of_birth":             dob,
			"address":                   utils.SanitizeString(req.Address),
			"next_of_kin":               utils.SanitizeString(req.NextOfKin),
			"next_of_kin_phone":         req.NextOfKinPhone,
			"registration_completed_at": now,
		}
		if err := tx.Model(&models.Student{}).Where("id = ?", student.ID).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Student{}).
			Where("id = ? AND status = ?", student.ID, models.StudentRegistered).
			Update("status", models.StudentActive).Error; err != nil {
			return err
		}
		if len(docs) > 0 {
			return tx.Create(&docs).Error
		}
		return nil
	})
	if err != nil {
		return apperrors.Database(err, "failed to complete registration")
	}

	middleware.LogActivity(c, "UPDATE", "student_registration", student.ID, fiber.Map{"documents": len(docs)})

	resp := fiber.Map{
		"success":   true,
		"message":   "Registration completed",
		"documents": docs,
	}
	if len(warnings) > 0 {
		resp["warning"] = strings.Join(warnings, "; ")
	}
	return c.JSON(resp)
}

// Me returns the logged-in student's profile and registration state.
func (sc *StudentPortalController) Me(c *fiber.Ctx) error {
	student, err := middleware.GetCurrentStudent(c)
	if err != nil {
		return err
	}
	state, err := sc.engine.StudentState(c.UserContext(), student.ID)
	if err != nil {
		return err
	}
	var docs []models.QualificationDocument
	database.DB.Where("student_id = ?", student.ID).Find(&docs)

	return c.JSON(fiber.Map{
		"success":        true,
		"student":        state,
		"profile":        student,
		"qualifications": docs,
	})
}

// Payments lists every payment the student has made.
func (sc *StudentPortalController) Payments(c *fiber.Ctx) error {
	student, err := middleware.GetCurrentStudent(c)
	if err != nil {
		return err
	}
	var payments []models.Payment
	if err := database.DB.Where("student_id = ?", student.ID).Order("created_at ASC").Find(&payments).Error; err != nil {
		return apperrors.Database(err, "failed to fetch payments")
	}
	return c.JSON(fiber.Map{"success": true, "payments": payments})
}

type studentAssignment struct {
	models.Assignment
	Grade      *models.AssignmentGrade      `json:"grade,omitempty"`
	Submission *models.AssignmentSubmission `json:"submission,omitempty"`
}

// Assignments lists the assignments of the student's course with their grade and latest submission.
func (sc *StudentPortalController) Assignments(c *fiber.Ctx) error {
	student, err := middleware.GetCurrentStudent(c)
	if err != nil {
		return err
	}

	var assignments []models.Assignment
	if err := database.DB.Where("course_id = ?", student.CourseID).Order("due_date ASC").Find(&assignments).Error; err != nil {
		return apperrors.Database(err, "failed to fetch assignments")
	}
	var grades []models.AssignmentGrade
	database.DB.Where("student_id = ?", student.ID).Find(&grades)
	var submissions []models.AssignmentSubmission
	database.DB.Where("student_id = ?", student.ID).Order("submitted_at ASC").Find(&submissions)

	gradeBy := make(map[uint]*models.AssignmentGrade, len(grades))
	for i := range grades {
		gradeBy[grades[i].AssignmentID] = &grades[i]
	}
	subBy := make(map[uint]*models.AssignmentSubmission, len(submissions))
	for i := range submissions {
		subBy[submissions[i].AssignmentID] = &submissions[i]
	}

	out := make([]studentAssignment, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, studentAssignment{Assignment: a, Grade: gradeBy[a.ID], Submission: subBy[a.ID]})
	}
	return c.JSON(fiber.Map{"success": true, "assignments": out})
}

// SubmitAssignment uploads the student's work for an assignment of their course.
func (sc *StudentPortalController) SubmitAssignment(c *fiber.Ctx) error {
	student, err := middleware.GetCurrentStudent(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id", "assignment")
	if err != nil {
		return err
	}

	var assignment models.Assignment
	if err := database.DB.Where("id = ? AND course_id = ?", id, student.CourseID).First(&assignment).Error; err != nil {
		return apperrors.NotFound("Assignment not found")
	}
	if assignment.DueDate != nil && time.Now().After(*assignment.DueDate) {
		return apperrors.Validation("The due date for this assignment has passed")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return apperrors.Validation("file is required")
	}
	if fh.Size > config.AppConfig.MaxFileSize {
		return apperrors.Validation("File is larger than the upload limit")
	}
	if !utils.IsValidFileExtension(fh.Filename, strings.Split(config.AppConfig.AllowedExtensions, ",")) {
		return apperrors.Validation("File type is not accepted")
	}
	if sc.storage == nil {
		return fmt.Errorf("file storage is not configured")
	}

	url, err := sc.storage.UploadFile(c.UserContext(), fh, "submissions", student.ID)
	if err != nil {
		return fmt.Errorf("failed to upload submission: %v", err)
	}
	submission := models.AssignmentSubmission{
		AssignmentID: assignment.ID,
		StudentID:    student.ID,
		FileURL:      url,
		SubmittedAt:  time.Now(),
	}
	if err := database.DB.Create(&submission).Error; err != nil {
		return apperrors.Database(err, "failed to save submission")
	}

	middleware.LogActivity(c, "CREATE", "assignment_submissions", submission.ID, fiber.Map{"assignment_id": assignment.ID})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":    true,
		"message":    "Assignment submitted",
		"submission": submission,
	})
}
