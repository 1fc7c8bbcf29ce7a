package controllers

import (
	"bytes"
	"fmt"
	"strings"

	"schoolreg/apperrors"
	"schoolreg/config"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/services/documents"
	"schoolreg/services/reconciliation"

	"github.com/gofiber/fiber/v2"
)

// DocumentController serves generated PDFs.
type DocumentController struct {
	engine    *reconciliation.Engine
	generator *documents.Generator
}

func NewDocumentController(engine *reconciliation.Engine, generator *documents.Generator) *DocumentController {
	return &DocumentController{engine: engine, generator: generator}
}

// fileSafe turns an admission number like ABC/2026/CERT/001 into a file-name fragment.
func fileSafe(s string) string {
	return strings.NewReplacer("/", "-", " ", "_").Replace(s)
}

func registrationPayments(studentID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := database.DB.Where("student_id = ? AND payment_type = ? AND status = ?",
		studentID, models.PaymentTypeRegistration, models.PaymentCompleted).
		Order("created_at ASC").Find(&payments).Error
	if err != nil {
		return nil, apperrors.Database(err, "failed to fetch payments")
	}
	return payments, nil
}

// DownloadReceipt renders the registration receipt of the logged-in student.
func (dc *DocumentController) DownloadReceipt(c *fiber.Ctx) error {
	student, err := middleware.GetCurrentStudent(c)
	if err != nil {
		return err
	}
	state, err := dc.engine.StudentState(c.UserContext(), student.ID)
	if err != nil {
		return err
	}
	if err := documents.CanIssueReceipt(state); err != nil {
		return err
	}
	payments, err := registrationPayments(student.ID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := dc.generator.Receipt(&buf, student, state, payments); err != nil {
		return err
	}
	middleware.LogActivity(c, "DOWNLOAD", "receipt", student.ID, nil)
	return sendPDF(c, fmt.Sprintf("receipt_%s.pdf", fileSafe(state.AdmissionNumber)), buf.Bytes())
}

// DownloadAdmissionLetter renders the admission letter of the logged-in student.
func (dc *DocumentController) DownloadAdmissionLetter(c *fiber.Ctx) error {
	student, err := middleware.GetCurrentStudent(c)
	if err != nil {
		return err
	}
	if err := documents.CanIssueAdmissionLetter(student); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := dc.generator.AdmissionLetter(&buf, student); err != nil {
		return err
	}
	middleware.LogActivity(c, "DOWNLOAD", "admission_letter", student.ID, nil)
	return sendPDF(c, fmt.Sprintf("admission_letter_%s.pdf", fileSafe(*student.AdmissionNumber)), buf.Bytes())
}

// DownloadIDCard renders a student or staff ID card. Students need an admission number.
func (dc *DocumentController) DownloadIDCard(c *fiber.Ctx) error {
	id, err := paramID(c, "id", c.Params("type"))
	if err != nil {
		return err
	}

	var card documents.IDCard
	switch strings.ToLower(c.Params("type")) {
	case documents.CardStudent:
		var student models.Student
		if err := database.DB.Preload("Course").First(&student, id).Error; err != nil {
			return apperrors.NotFound("Student not found")
		}
		if err := documents.CanIssueAdmissionLetter(&student); err != nil {
			return err
		}
		card = documents.StudentCard(&student)
	case documents.CardStaff:
		var staff models.Staff
		if err := database.DB.First(&staff, id).Error; err != nil {
			return apperrors.NotFound("Staff member not found")
		}
		card = documents.StaffCard(&staff)
	default:
		return apperrors.Validation("type must be student or staff")
	}

	var buf bytes.Buffer
	if err := dc.generator.IDCard(&buf, card); err != nil {
		return err
	}
	middleware.LogActivity(c, "DOWNLOAD", "id_card", id, fiber.Map{"type": card.Kind})
	return sendPDF(c, fmt.Sprintf("id_card_%s_%s.pdf", card.Kind, fileSafe(card.Number)), buf.Bytes())
}

// DownloadCertificate renders a completion certificate when the fee is paid and
// the assignment average reaches the pass mark.
func (dc *DocumentController) DownloadCertificate(c *fiber.Ctx) error {
	id, err := paramID(c, "studentId", "student")
	if err != nil {
		return err
	}
	var student models.Student
	if err := database.DB.Preload("Course").First(&student, id).Error; err != nil {
		return apperrors.NotFound("Student not found")
	}
	state, err := dc.engine.StudentState(c.UserContext(), student.ID)
	if err != nil {
		return err
	}

	var assignments []models.Assignment
	if err := database.DB.Where("course_id = ?", student.CourseID).Find(&assignments).Error; err != nil {
		return apperrors.Database(err, "failed to fetch assignments")
	}
	var grades []models.AssignmentGrade
	if err := database.DB.Where("student_id = ?", student.ID).Find(&grades).Error; err != nil {
		return apperrors.Database(err, "failed to fetch grades")
	}
	average := documents.AssignmentAverage(assignments, grades)
	passMark := config.AppConfig.CertificatePassMark
	if err := documents.CanIssueCertificate(state, average, passMark); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := dc.generator.Certificate(&buf, &student, state, average, passMark); err != nil {
		return err
	}
	middleware.LogActivity(c, "DOWNLOAD", "certificate", student.ID, fiber.Map{"average": average})
	return sendPDF(c, fmt.Sprintf("certificate_%s.pdf", fileSafe(state.AdmissionNumber)), buf.Bytes())
}
