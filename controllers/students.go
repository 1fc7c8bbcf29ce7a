package controllers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"schoolreg/apperrors"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/services/reconciliation"
	"schoolreg/storage"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// StudentController is the staff view of student records.
type StudentController struct {
	engine *reconciliation.Engine
}

func NewStudentController(engine *reconciliation.Engine) *StudentController {
	return &StudentController{engine: engine}
}

type CreateStudentRequest struct {
	FirstName string `json:"first_name" validate:"required,notblank,max=100"`
	LastName  string `json:"last_name" validate:"required,notblank,max=100"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"omitempty,max=30"`
	CourseID  uint   `json:"course_id" validate:"required"`
}

type UpdateStudentRequest struct {
	FirstName       *string `json:"first_name" validate:"omitempty,notblank,max=100"`
	LastName        *string `json:"last_name" validate:"omitempty,notblank,max=100"`
	Email           *string `json:"email" validate:"omitempty,email"`
	Phone           *string `json:"phone" validate:"omitempty,max=30"`
	CourseID        *uint   `json:"course_id"`
	Status          *string `json:"status" validate:"omitempty,oneof=Applied Registered Active Suspended Completed"`
	AdmissionNumber *string `json:"admission_number" validate:"omitempty,max=50"`
	Address         *string `json:"address" validate:"omitempty,max=500"`
	NextOfKin       *string `json:"next_of_kin" validate:"omitempty,max=200"`
	NextOfKinPhone  *string `json:"next_of_kin_phone" validate:"omitempty,max=30"`
}

var statusRank = map[string]int{
	models.StudentApplied:    0,
	models.StudentRegistered: 1,
	models.StudentActive:     2,
}

// statusTransitionAllowed keeps the lifecycle one-directional.
// Suspended and Completed are terminal.
func statusTransitionAllowed(from, to string) bool {
	if from == to {
		return true
	}
	if from == models.StudentSuspended || from == models.StudentCompleted {
		return false
	}
	if to == models.StudentSuspended || to == models.StudentCompleted {
		return true
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	return ok1 && ok2 && tr > fr
}

// GetStudents lists students with course, status and search filters.
func (sc *StudentController) GetStudents(c *fiber.Ctx) error {
	page, limit, offset := utils.Pagination(c.Query("page"), c.Query("limit"))

	query := database.DB.Model(&models.Student{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if courseID := c.Query("course_id"); courseID != "" {
		id, ok := utils.ParseID(courseID)
		if !ok {
			return apperrors.Validation("Invalid course ID")
		}
		query = query.Where("course_id = ?", id)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + search + "%"
		query = query.Where("first_name LIKE ? OR last_name LIKE ? OR email LIKE ? OR application_number LIKE ? OR admission_number LIKE ?",
			like, like, like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return apperrors.Database(err, "failed to count students")
	}
	var students []models.Student
	if err := query.Preload("Course").Order("created_at DESC").Offset(offset).Limit(limit).Find(&students).Error; err != nil {
		return apperrors.Database(err, "failed to fetch students")
	}
	return listResponse(c, "students", students, total, page, limit)
}

// GetStudent returns a student with its derived payment state.
func (sc *StudentController) GetStudent(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "student")
	if err != nil {
		return err
	}
	var student models.Student
	if err := database.DB.Preload("Course").Preload("Qualifications").First(&student, id).Error; err != nil {
		return apperrors.NotFound("Student not found")
	}
	state, err := sc.engine.StudentState(c.UserContext(), student.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "student": student, "state": state})
}

// CreateStudent pre-seeds an applicant. The student then registers through the normal payment flow.
func (sc *StudentController) CreateStudent(c *fiber.Ctx) error {
	var req CreateStudentRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}
	var course models.Course
	if err := database.DB.First(&course, req.CourseID).Error; err != nil {
		return apperrors.Validation("Course %d does not exist", req.CourseID)
	}

	student := models.Student{
		FirstName: utils.SanitizeString(req.FirstName),
		LastName:  utils.SanitizeString(req.LastName),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:     req.Phone,
		CourseID:  course.ID,
		Status:    models.StudentApplied,
	}
	if err := sc.engine.CreateSeededStudent(c.UserContext(), &student); err != nil {
		return err
	}
	student.Course = course

	middleware.LogActivity(c, "CREATE", "students", student.ID, fiber.Map{"application_number": student.ApplicationNumber})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Student created successfully",
		"student": student,
	})
}

// UpdateStudent edits a student record. Status only moves forward and an issued
// admission number cannot be replaced.
func (sc *StudentController) UpdateStudent(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "student")
	if err != nil {
		return err
	}
	var req UpdateStudentRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	var student models.Student
	if err := database.DB.First(&student, id).Error; err != nil {
		return apperrors.NotFound("Student not found")
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		updates["first_name"] = utils.SanitizeString(*req.FirstName)
	}
	if req.LastName != nil {
		updates["last_name"] = utils.SanitizeString(*req.LastName)
	}
	if req.Email != nil {
		updates["email"] = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Address != nil {
		updates["address"] = *req.Address
	}
	if req.NextOfKin != nil {
		updates["next_of_kin"] = *req.NextOfKin
	}
	if req.NextOfKinPhone != nil {
		updates["next_of_kin_phone"] = *req.NextOfKinPhone
	}
	if req.CourseID != nil && *req.CourseID != student.CourseID {
		if student.AdmissionNumber != nil {
			return apperrors.Validation("Course cannot change after admission")
		}
		var n int64
		database.DB.Model(&models.Course{}).Where("id = ?", *req.CourseID).Count(&n)
		if n == 0 {
			return apperrors.Validation("Course %d does not exist", *req.CourseID)
		}
		updates["course_id"] = *req.CourseID
	}
	if req.Status != nil {
		if !statusTransitionAllowed(student.Status, *req.Status) {
			return apperrors.Validation("Status cannot change from %s to %s", student.Status, *req.Status)
		}
		updates["status"] = *req.Status
	}
	if req.AdmissionNumber != nil {
		number := strings.TrimSpace(*req.AdmissionNumber)
		switch {
		case student.AdmissionNumber != nil && *student.AdmissionNumber != number:
			return apperrors.Validation("Admission number is already issued and cannot be changed")
		case student.AdmissionNumber == nil && number != "":
			updates["admission_number"] = number
		}
	}
	if len(updates) == 0 {
		return apperrors.Validation("No changes supplied")
	}

	if err := database.DB.Model(&student).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("Email or admission number already in use")
		}
		return apperrors.Database(err, "failed to update student")
	}
	database.DB.Preload("Course").First(&student, student.ID)

	middleware.LogActivity(c, "UPDATE", "students", student.ID, updates)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Student updated successfully",
		"student": student,
	})
}

// DeleteStudent removes a student together with its payments and documents.
func (sc *StudentController) DeleteStudent(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "student")
	if err != nil {
		return err
	}
	var student models.Student
	if err := database.DB.First(&student, id).Error; err != nil {
		return apperrors.NotFound("Student not found")
	}

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{&models.Payment{}, &models.QualificationDocument{}, &models.AssignmentGrade{}, &models.AssignmentSubmission{}} {
			if err := tx.Where("student_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&student).Error
	})
	if err != nil {
		return apperrors.Database(err, "failed to delete student")
	}

	middleware.LogActivity(c, "DELETE", "students", id, fiber.Map{"application_number": student.ApplicationNumber})
	return c.JSON(fiber.Map{"success": true, "message": "Student deleted successfully"})
}

// GetStudentPayments lists the ledger of one student with its derived state.
func (sc *StudentController) GetStudentPayments(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "student")
	if err != nil {
		return err
	}
	state, err := sc.engine.StudentState(c.UserContext(), id)
	if err != nil {
		return err
	}
	var payments []models.Payment
	if err := database.DB.Where("student_id = ?", id).Order("created_at ASC").Find(&payments).Error; err != nil {
		return apperrors.Database(err, "failed to fetch payments")
	}
	return c.JSON(fiber.Map{"success": true, "student": state, "payments": payments})
}

// importRow is one parsed line of a student import sheet.
type importRow struct {
	Line       int
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	CourseCode string
}

var importColumns = []string{"first_name", "last_name", "email", "phone", "course_code"}

// readImportRows loads raw rows from a CSV or XLSX upload.
func readImportRows(fileName string, r io.Reader) ([][]string, error) {
	switch storage.FileExtension(fileName) {
	case "csv":
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		rows, err := reader.ReadAll()
		if err != nil {
			return nil, apperrors.Validation("Invalid CSV: %v", err)
		}
		return rows, nil
	case "xlsx":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, apperrors.Validation("Invalid XLSX: %v", err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, apperrors.Validation("Workbook has no sheets")
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, apperrors.Validation("Cannot read sheet %s: %v", sheets[0], err)
		}
		return rows, nil
	}
	return nil, apperrors.Validation("Import file must be .csv or .xlsx")
}

// parseImportRows maps rows by header name. Rows with missing required cells are reported, not imported.
func parseImportRows(rows [][]string) ([]importRow, []string, error) {
	if len(rows) == 0 {
		return nil, nil, apperrors.Validation("Import file is empty")
	}
	index := map[string]int{}
	for i, h := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"first_name", "last_name", "email", "course_code"} {
		if _, ok := index[col]; !ok {
			return nil, nil, apperrors.Validation("Missing column %q (expected %s)", col, strings.Join(importColumns, ", "))
		}
	}
	cell := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []importRow
	var problems []string
	for n, row := range rows[1:] {
		line := n + 2
		r := importRow{
			Line:       line,
			FirstName:  cell(row, "first_name"),
			LastName:   cell(row, "last_name"),
			Email:      strings.ToLower(cell(row, "email")),
			Phone:      cell(row, "phone"),
			CourseCode: strings.ToUpper(cell(row, "course_code")),
		}
		if r.FirstName == "" && r.LastName == "" && r.Email == "" && r.CourseCode == "" {
			continue
		}
		if r.FirstName == "" || r.LastName == "" || r.Email == "" || r.CourseCode == "" {
			problems = append(problems, fmt.Sprintf("line %d: first_name, last_name, email and course_code are required", line))
			continue
		}
		if !strings.Contains(r.Email, "@") {
			problems = append(problems, fmt.Sprintf("line %d: invalid email %q", line, r.Email))
			continue
		}
		out = append(out, r)
	}
	return out, problems, nil
}

// ImportStudents pre-seeds applicants from a CSV or XLSX sheet.
func (sc *StudentController) ImportStudents(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apperrors.Validation("file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %v", err)
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read upload: %v", err)
	}

	raw, err := readImportRows(fh.Filename, bytes.NewReader(body))
	if err != nil {
		return err
	}
	rows, problems, err := parseImportRows(raw)
	if err != nil {
		return err
	}

	var courses []models.Course
	if err := database.DB.Find(&courses).Error; err != nil {
		return apperrors.Database(err, "failed to fetch courses")
	}
	byCode := make(map[string]uint, len(courses))
	for _, course := range courses {
		byCode[strings.ToUpper(course.Code)] = course.ID
	}

	created := 0
	for _, r := range rows {
		courseID, ok := byCode[r.CourseCode]
		if !ok {
			problems = append(problems, fmt.Sprintf("line %d: unknown course code %s", r.Line, r.CourseCode))
			continue
		}
		student := models.Student{
			FirstName: utils.SanitizeString(r.FirstName),
			LastName:  utils.SanitizeString(r.LastName),
			Email:     r.Email,
			Phone:     r.Phone,
			CourseID:  courseID,
			Status:    models.StudentApplied,
		}
		if err := sc.engine.CreateSeededStudent(c.UserContext(), &student); err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %s", r.Line, apperrors.PublicMessage(err)))
			continue
		}
		created++
	}

	logrus.WithFields(logrus.Fields{"file": fh.Filename, "created": created, "skipped": len(problems)}).Info("Student import finished")
	middleware.LogActivity(c, "IMPORT", "students", 0, fiber.Map{"file": fh.Filename, "created": created})

	return c.JSON(fiber.Map{
		"success": true,
		"created": created,
		"errors":  problems,
	})
}
