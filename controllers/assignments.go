package controllers

import (
	"fmt"
	"time"

	"schoolreg/apperrors"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AssignmentController struct{}

type AssignmentRequest struct {
	CourseID    uint    `json:"course_id" validate:"required"`
	Title       string  `json:"title" validate:"required,notblank,max=255"`
	Description string  `json:"description"`
	DueDate     *string `json:"due_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	MaxScore    float64 `json:"max_score" validate:"omitempty,gt=0,lte=1000"`
}

type GradeEntry struct {
	StudentID uint    `json:"student_id" validate:"required"`
	Score     float64 `json:"score" validate:"gte=0"`
	Feedback  string  `json:"feedback" validate:"max=2000"`
}

type GradeRequest struct {
	Grades []GradeEntry `json:"grades" validate:"required,min=1,dive"`
}

func (r AssignmentRequest) dueDate() *time.Time {
	if r.DueDate == nil || *r.DueDate == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *r.DueDate)
	if err != nil {
		return nil
	}
	return &t
}

// GetAssignments lists assignments, optionally for one course
func (ac *AssignmentController) GetAssignments(c *fiber.Ctx) error {
	page, limit, offset := utils.Pagination(c.Query("page"), c.Query("limit"))

	query := database.DB.Model(&models.Assignment{})
	if courseID := c.Query("course_id"); courseID != "" {
		id, ok := utils.ParseID(courseID)
		if !ok {
			return apperrors.Validation("Invalid course ID")
		}
		query = query.Where("course_id = ?", id)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return apperrors.Database(err, "failed to count assignments")
	}
	var assignments []models.Assignment
	if err := query.Order("due_date IS NULL, due_date ASC").Offset(offset).Limit(limit).Find(&assignments).Error; err != nil {
		return apperrors.Database(err, "failed to fetch assignments")
	}
	return listResponse(c, "assignments", assignments, total, page, limit)
}

// GetAssignment returns an assignment with its grades and submissions
func (ac *AssignmentController) GetAssignment(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "assignment")
	if err != nil {
		return err
	}
	var assignment models.Assignment
	if err := database.DB.Preload("Grades").First(&assignment, id).Error; err != nil {
		return apperrors.NotFound("Assignment not found")
	}
	var submissions []models.AssignmentSubmission
	database.DB.Where("assignment_id = ?", id).Order("submitted_at DESC").Find(&submissions)

	return c.JSON(fiber.Map{"success": true, "assignment": assignment, "submissions": submissions})
}

// CreateAssignment adds an assignment to a course
func (ac *AssignmentController) CreateAssignment(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	var req AssignmentRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := checkCourse(&req.CourseID); err != nil {
		return err
	}

	assignment := models.Assignment{
		CourseID:        req.CourseID,
		Title:           req.Title,
		Description:     req.Description,
		DueDate:         req.dueDate(),
		MaxScore:        req.MaxScore,
		CreatedByUserID: user.ID,
	}
	if assignment.MaxScore == 0 {
		assignment.MaxScore = 100
	}
	if err := database.DB.Create(&assignment).Error; err != nil {
		return apperrors.Database(err, "failed to create assignment")
	}

	middleware.LogActivity(c, "CREATE", "assignments", assignment.ID, fiber.Map{"title": assignment.Title, "course_id": assignment.CourseID})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":    true,
		"message":    "Assignment created successfully",
		"assignment": assignment,
	})
}

// UpdateAssignment edits an assignment. The course cannot change once grades exist.
func (ac *AssignmentController) UpdateAssignment(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "assignment")
	if err != nil {
		return err
	}
	var req AssignmentRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	var assignment models.Assignment
	if err := database.DB.First(&assignment, id).Error; err != nil {
		return apperrors.NotFound("Assignment not found")
	}
	var graded int64
	database.DB.Model(&models.AssignmentGrade{}).Where("assignment_id = ?", id).Count(&graded)
	if req.CourseID != assignment.CourseID {
		if graded > 0 {
			return apperrors.Conflict("Assignment already has grades; its course cannot change")
		}
		if err := checkCourse(&req.CourseID); err != nil {
			return err
		}
	}

	updates := map[string]interface{}{
		"course_id":   req.CourseID,
		"title":       req.Title,
		"description": req.Description,
		"due_date":    req.dueDate(),
	}
	if req.MaxScore > 0 {
		var top float64
		database.DB.Model(&models.AssignmentGrade{}).Where("assignment_id = ?", id).Select("COALESCE(MAX(score), 0)").Scan(&top)
		if req.MaxScore < top {
			return apperrors.Validation("max_score cannot be below an existing grade (%.2f)", top)
		}
		updates["max_score"] = req.MaxScore
	}
	if err := database.DB.Model(&assignment).Updates(updates).Error; err != nil {
		return apperrors.Database(err, "failed to update assignment")
	}
	database.DB.First(&assignment, assignment.ID)

	middleware.LogActivity(c, "UPDATE", "assignments", assignment.ID, updates)
	return c.JSON(fiber.Map{
		"success":    true,
		"message":    "Assignment updated successfully",
		"assignment": assignment,
	})
}

// DeleteAssignment removes an assignment with its grades and submissions
func (ac *AssignmentController) DeleteAssignment(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "assignment")
	if err != nil {
		return err
	}
	var assignment models.Assignment
	if err := database.DB.First(&assignment, id).Error; err != nil {
		return apperrors.NotFound("Assignment not found")
	}

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("assignment_id = ?", id).Delete(&models.AssignmentGrade{}).Error; err != nil {
			return err
		}
		if err := tx.Where("assignment_id = ?", id).Delete(&models.AssignmentSubmission{}).Error; err != nil {
			return err
		}
		return tx.Delete(&assignment).Error
	})
	if err != nil {
		return apperrors.Database(err, "failed to delete assignment")
	}

	middleware.LogActivity(c, "DELETE", "assignments", id, fiber.Map{"title": assignment.Title})
	return c.JSON(fiber.Map{"success": true, "message": "Assignment deleted successfully"})
}

// validateGrades checks scores against the assignment and enrolment.
func validateGrades(assignment models.Assignment, entries []GradeEntry, enrolled map[uint]bool) error {
	var fields []apperrors.FieldError
	for _, g := range entries {
		switch {
		case g.Score > assignment.MaxScore:
			fields = append(fields, apperrors.FieldError{Field: "score", Error: fmt.Sprintf("score exceeds max_score for student %d", g.StudentID)})
		case !enrolled[g.StudentID]:
			fields = append(fields, apperrors.FieldError{Field: "student_id", Error: fmt.Sprintf("student %d is not enrolled in this course", g.StudentID)})
		}
	}
	if len(fields) > 0 {
		return apperrors.ValidationFields(fields[0].Error, fields)
	}
	return nil
}

// GradeAssignment records or replaces scores for students of the assignment's course.
func (ac *AssignmentController) GradeAssignment(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "assignment")
	if err != nil {
		return err
	}
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	var req GradeRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	var assignment models.Assignment
	if err := database.DB.First(&assignment, id).Error; err != nil {
		return apperrors.NotFound("Assignment not found")
	}

	ids := make([]uint, 0, len(req.Grades))
	for _, g := range req.Grades {
		ids = append(ids, g.StudentID)
	}
	var found []uint
	database.DB.Model(&models.Student{}).Where("id IN ? AND course_id = ?", ids, assignment.CourseID).Pluck("id", &found)
	enrolled := make(map[uint]bool, len(found))
	for _, sid := range found {
		enrolled[sid] = true
	}
	if err := validateGrades(assignment, req.Grades, enrolled); err != nil {
		return err
	}

	grades := make([]models.AssignmentGrade, 0, len(req.Grades))
	for _, g := range req.Grades {
		grades = append(grades, models.AssignmentGrade{
			AssignmentID:   assignment.ID,
			StudentID:      g.StudentID,
			Score:          g.Score,
			Feedback:       g.Feedback,
			GradedByUserID: user.ID,
		})
	}
	err = database.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "assignment_id"}, {Name: "student_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "feedback", "graded_by_user_id", "updated_at"}),
	}).Create(&grades).Error
	if err != nil {
		return apperrors.Database(err, "failed to save grades")
	}

	middleware.LogActivity(c, "UPDATE", "grades", assignment.ID, fiber.Map{"students": ids})
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Grades saved",
		"grades":  grades,
	})
}
