package controllers

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"schoolreg/apperrors"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/services/reconciliation"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type PaymentController struct {
	engine *reconciliation.Engine
}

func NewPaymentController(engine *reconciliation.Engine) *PaymentController {
	return &PaymentController{engine: engine}
}

// VerifyPaymentRequest is the body of POST /api/payment/verify.
type VerifyPaymentRequest struct {
	Reference         string `json:"reference" validate:"required,notblank,max=100"`
	PaymentType       string `json:"paymentType" validate:"required,oneof=Registration Application registration application"`
	StudentID         uint   `json:"studentId" validate:"required_without=ApplicationNumber"`
	ApplicationNumber string `json:"applicationNumber" validate:"required_without=StudentID"`
	InstallmentType   string `json:"installmentType" validate:"omitempty,oneof=full half first second"`
}

// Verify reconciles a gateway transaction against the ledger.
func (pc *PaymentController) Verify(c *fiber.Ctx) error {
	var req VerifyPaymentRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	var (
		state *reconciliation.StudentState
		err   error
	)
	switch strings.ToLower(req.PaymentType) {
	case "application":
		if req.ApplicationNumber == "" {
			return apperrors.Validation("applicationNumber is required for application payments")
		}
		state, err = pc.engine.VerifyApplicationPayment(c.UserContext(), req.Reference, req.ApplicationNumber)
	default:
		if req.StudentID == 0 {
			return apperrors.Validation("studentId is required for registration payments")
		}
		state, err = pc.engine.VerifyRegistrationPayment(c.UserContext(), req.Reference, req.StudentID, req.InstallmentType)
	}
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"student": state,
	})
}

type paymentRow struct {
	models.Payment
	StudentName     string `json:"student_name"`
	AdmissionNumber string `json:"admission_number"`
	CourseName      string `json:"course_name"`
}

const paymentSelect = "payments.*, CONCAT(students.first_name, ' ', students.last_name) AS student_name, " +
	"COALESCE(students.admission_number, '') AS admission_number, courses.name AS course_name"

func paymentJoins(db *gorm.DB) *gorm.DB {
	return db.Joins("JOIN students ON students.id = payments.student_id").
		Joins("JOIN courses ON courses.id = students.course_id")
}

// paymentFilters turns the list query string into a scope.
func paymentFilters(c *fiber.Ctx) (func(*gorm.DB) *gorm.DB, error) {
	var conds []func(*gorm.DB) *gorm.DB
	add := func(query string, args ...interface{}) {
		conds = append(conds, func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) })
	}

	if t := c.Query("payment_type"); t != "" {
		add("payments.payment_type = ?", t)
	}
	if s := c.Query("status"); s != "" {
		add("payments.status = ?", s)
	}
	if courseID := c.Query("course_id"); courseID != "" {
		id, ok := utils.ParseID(courseID)
		if !ok {
			return nil, apperrors.Validation("Invalid course ID")
		}
		add("students.course_id = ?", id)
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return nil, apperrors.Validation("from must be YYYY-MM-DD")
		}
		add("payments.created_at >= ?", t)
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return nil, apperrors.Validation("to must be YYYY-MM-DD")
		}
		add("payments.created_at < ?", t.AddDate(0, 0, 1))
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + search + "%"
		add("payments.reference LIKE ? OR students.admission_number LIKE ? OR students.email LIKE ?", like, like, like)
	}

	return func(db *gorm.DB) *gorm.DB {
		for _, cond := range conds {
			db = cond(db)
		}
		return db
	}, nil
}

// ListPayments returns the ledger with student and course names (staff only)
func (pc *PaymentController) ListPayments(c *fiber.Ctx) error {
	filters, err := paymentFilters(c)
	if err != nil {
		return err
	}
	page, limit, offset := utils.Pagination(c.Query("page"), c.Query("limit"))

	var total int64
	if err := database.DB.Model(&models.Payment{}).Scopes(paymentJoins, filters).Count(&total).Error; err != nil {
		return apperrors.Database(err, "failed to count payments")
	}
	var rows []paymentRow
	if err := database.DB.Table("payments").Select(paymentSelect).Scopes(paymentJoins, filters).
		Order("payments.created_at DESC").Limit(limit).Offset(offset).Scan(&rows).Error; err != nil {
		return apperrors.Database(err, "failed to fetch payments")
	}
	return listResponse(c, "payments", rows, total, page, limit)
}

// ExportPayments streams the filtered ledger as an XLSX workbook.
func (pc *PaymentController) ExportPayments(c *fiber.Ctx) error {
	filters, err := paymentFilters(c)
	if err != nil {
		return err
	}
	var rows []paymentRow
	if err := database.DB.Table("payments").Select(paymentSelect).Scopes(paymentJoins, filters).
		Order("payments.created_at ASC").Scan(&rows).Error; err != nil {
		return apperrors.Database(err, "failed to fetch payments")
	}

	buf, err := paymentsWorkbook(rows)
	if err != nil {
		return err
	}

	middleware.LogActivity(c, "EXPORT", "payments", 0, fiber.Map{"rows": len(rows)})

	fileName := fmt.Sprintf("payments_%s.xlsx", time.Now().Format("20060102_150405"))
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+fileName+`"`)
	return c.Send(buf.Bytes())
}

// paymentsWorkbook renders payment rows into a single-sheet workbook.
func paymentsWorkbook(rows []paymentRow) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close workbook")
		}
	}()

	const sheet = "Payments"
	f.SetSheetName("Sheet1", sheet)
	headers := []interface{}{"Date", "Reference", "Student", "Admission No", "Course", "Type", "Installment", "Phase", "Status", "Currency", "Amount"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("failed to write header: %v", err)
	}

	for i, r := range rows {
		date := r.CreatedAt
		if r.PaidAt != nil {
			date = *r.PaidAt
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []interface{}{
			date.Format("2006-01-02 15:04"),
			r.Reference,
			r.StudentName,
			r.AdmissionNumber,
			r.CourseName,
			r.PaymentType,
			fmt.Sprintf("%d/%d", r.InstallmentNumber, r.TotalInstallments),
			r.InstallmentPhase,
			r.Status,
			r.Currency,
			r.Amount,
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %v", i+2, err)
		}
	}

	if len(rows) > 0 {
		totalCell, _ := excelize.CoordinatesToCellName(11, len(rows)+2)
		labelCell, _ := excelize.CoordinatesToCellName(10, len(rows)+2)
		f.SetCellValue(sheet, labelCell, "Total")
		f.SetCellFormula(sheet, totalCell, fmt.Sprintf("SUM(K2:K%d)", len(rows)+1))
	}
	f.SetColWidth(sheet, "A", "E", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %v", err)
	}
	return buf, nil
}
