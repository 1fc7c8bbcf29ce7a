// Package documents renders the PDFs handed to students and staff: registration
// receipts, admission letters, ID cards and completion certificates.
package documents

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"schoolreg/apperrors"
	"schoolreg/models"
	"schoolreg/services/reconciliation"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

// ID card subjects.
const (
	CardStudent = "student"
	CardStaff   = "staff"
)

// Generator carries the letterhead printed on every document.
type Generator struct {
	SchoolName    string
	SchoolAddress string
	Now           func() time.Time
}

func NewGenerator(name, address string) *Generator {
	return &Generator{SchoolName: name, SchoolAddress: address, Now: time.Now}
}

// CanIssueReceipt reports whether the registration fee is covered.
func CanIssueReceipt(state *reconciliation.StudentState) error {
	if state == nil || !state.FullyPaid() {
		return apperrors.Forbidden("registration fee has not been fully paid")
	}
	return nil
}

// CanIssueAdmissionLetter requires an issued admission number.
func CanIssueAdmissionLetter(student *models.Student) error {
	if student.AdmissionNumber == nil || *student.AdmissionNumber == "" {
		return apperrors.Forbidden("no admission number has been issued yet")
	}
	return nil
}

// CanIssueCertificate requires full payment and an assignment average at or above passMark.
func CanIssueCertificate(state *reconciliation.StudentState, average, passMark float64) error {
	if err := CanIssueReceipt(state); err != nil {
		return err
	}
	if average < passMark {
		return apperrors.Forbidden("assignment average %.2f is below the pass mark of %.2f", average, passMark)
	}
	return nil
}

// AssignmentAverage returns the mean percentage score across graded assignments.
// Assignments without a grade for the student do not count.
func AssignmentAverage(assignments []models.Assignment, grades []models.AssignmentGrade) float64 {
	maxScore := make(map[uint]float64, len(assignments))
	for _, a := range assignments {
		maxScore[a.ID] = a.MaxScore
	}
	var sum float64
	var n int
	for _, g := range grades {
		top, ok := maxScore[g.AssignmentID]
		if !ok || top <= 0 {
			continue
		}
		sum += g.Score / top * 100
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (g *Generator) newPage(title string) *gofpdf.Fpdf {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 8, strings.ToUpper(g.SchoolName), "", 1, "C", false, 0, "")
	if g.SchoolAddress != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 5, g.SchoolAddress, "", 1, "C", false, 0, "")
	}
	pdf.Ln(2)
	pdf.SetDrawColor(40, 145, 108)
	pdf.SetLineWidth(0.5)
	pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
	pdf.Ln(6)
	return pdf
}

func field(pdf *gofpdf.Fpdf, label, value string) {
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(50, 7, label)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 7, value)
	pdf.Ln(7)
}

func (g *Generator) footer(pdf *gofpdf.Fpdf) {
	pdf.Ln(10)
	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(100, 100, 100)
	pdf.Cell(0, 5, fmt.Sprintf("Document generated on: %s", g.Now().Format("January 02, 2006 at 3:04 PM")))
	pdf.Ln(4)
	pdf.Cell(0, 5, "*** This is an official computer-generated document. No signature required. ***")
	pdf.SetTextColor(0, 0, 0)
}

func finish(pdf *gofpdf.Fpdf, w io.Writer) error {
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render PDF: %v", err)
	}
	return nil
}

func admissionOrDash(s *models.Student) string {
	if s.AdmissionNumber == nil || *s.AdmissionNumber == "" {
		return "-"
	}
	return *s.AdmissionNumber
}

// Receipt lists the student's registration payments against the course fee.
func (g *Generator) Receipt(w io.Writer, student *models.Student, state *reconciliation.StudentState, payments []models.Payment) error {
	if err := CanIssueReceipt(state); err != nil {
		return err
	}

	pdf := g.newPage("REGISTRATION FEE RECEIPT")
	field(pdf, "Student:", student.FullName())
	field(pdf, "Admission Number:", admissionOrDash(student))
	field(pdf, "Application Number:", student.ApplicationNumber)
	field(pdf, "Course:", student.Course.Name)
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(40, 145, 108)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(55, 8, "REFERENCE", "1", 0, "L", true, 0, "")
	pdf.CellFormat(35, 8, "DATE", "1", 0, "C", true, 0, "")
	pdf.CellFormat(30, 8, "INSTALLMENT", "1", 0, "C", true, 0, "")
	pdf.CellFormat(25, 8, "STATUS", "1", 0, "C", true, 0, "")
	pdf.CellFormat(25, 8, "AMOUNT", "1", 1, "R", true, 0, "")
	pdf.SetTextColor(0, 0, 0)

	pdf.SetFont("Arial", "", 9)
	pdf.SetFillColor(245, 245, 245)
	fill := false
	for _, p := range payments {
		if p.PaymentType != models.PaymentTypeRegistration || p.Status == models.PaymentFailed {
			continue
		}
		date := p.CreatedAt
		if p.PaidAt != nil {
			date = *p.PaidAt
		}
		pdf.CellFormat(55, 7, p.Reference, "1", 0, "L", fill, 0, "")
		pdf.CellFormat(35, 7, date.Format("2006-01-02"), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("%d of %d (%s)", p.InstallmentNumber, p.TotalInstallments, p.InstallmentPhase), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(25, 7, p.Status, "1", 0, "C", fill, 0, "")
		pdf.CellFormat(25, 7, fmt.Sprintf("%.2f", p.Amount), "1", 1, "R", fill, 0, "")
		fill = !fill
	}

	pdf.Ln(4)
	field(pdf, "Registration Fee:", fmt.Sprintf("%.2f", state.RegistrationFee))
	field(pdf, "Total Paid:", fmt.Sprintf("%.2f", state.TotalPaid))
	field(pdf, "Balance:", fmt.Sprintf("%.2f", state.Balance))

	g.footer(pdf)
	return finish(pdf, w)
}

// AdmissionLetter offers the student a place on their course.
func (g *Generator) AdmissionLetter(w io.Writer, student *models.Student) error {
	if err := CanIssueAdmissionLetter(student); err != nil {
		return err
	}

	pdf := g.newPage("LETTER OF ADMISSION")
	field(pdf, "Date:", g.Now().Format("January 02, 2006"))
	field(pdf, "Admission Number:", *student.AdmissionNumber)
	field(pdf, "Name:", student.FullName())
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 11)
	body := fmt.Sprintf("Dear %s,\n\nWe are pleased to offer you admission to the %s programme (%s) at %s.",
		student.FirstName, student.Course.Name, student.Course.CertificationType, g.SchoolName)
	if student.Course.Duration != "" {
		body += fmt.Sprintf(" The programme runs for %s", student.Course.Duration)
		if student.Course.Schedule != "" {
			body += fmt.Sprintf(" on the following schedule: %s", student.Course.Schedule)
		}
		body += "."
	}
	body += "\n\nPlease keep your admission number safe. You will need it to sign in to the student portal and for all correspondence with the school.\n\nCongratulations and welcome."
	pdf.MultiCell(0, 6, body, "", "L", false)

	pdf.Ln(14)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 5, "_________________________________________")
	pdf.Ln(5)
	pdf.SetFont("Arial", "B", 9)
	pdf.Cell(0, 5, "Registrar")

	g.footer(pdf)
	return finish(pdf, w)
}

// IDCard describes whoever the card is printed for.
type IDCard struct {
	Kind     string // student or staff
	Name     string
	Number   string
	Subtitle string // course for students, position for staff
	QRData   string
}

// StudentCard builds the card for a student.
func StudentCard(s *models.Student) IDCard {
	number := admissionOrDash(s)
	return IDCard{
		Kind:     CardStudent,
		Name:     s.FullName(),
		Number:   number,
		Subtitle: s.Course.Name,
		QRData:   fmt.Sprintf("student:%d:%s", s.ID, number),
	}
}

// StaffCard builds the card for a staff member.
func StaffCard(s *models.Staff) IDCard {
	return IDCard{
		Kind:     CardStaff,
		Name:     s.FullName(),
		Number:   s.StaffNumber,
		Subtitle: s.Position,
		QRData:   fmt.Sprintf("staff:%d:%s", s.ID, s.StaffNumber),
	}
}

// IDCard renders a credit-card sized ID with a QR code.
func (g *Generator) IDCard(w io.Writer, card IDCard) error {
	png, err := qrcode.Encode(card.QRData, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("failed to encode QR code: %v", err)
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "L",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: 85.6, Ht: 54},
	})
	pdf.SetTitle(fmt.Sprintf("%s ID card", card.Kind), false)
	pdf.SetMargins(4, 4, 4)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFillColor(40, 145, 108)
	pdf.Rect(0, 0, 85.6, 11, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 9)
	pdf.SetXY(4, 3)
	pdf.CellFormat(77.6, 5, strings.ToUpper(g.SchoolName), "", 0, "C", false, 0, "")

	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(4, 14)
	pdf.SetFont("Arial", "B", 7)
	pdf.Cell(50, 4, strings.ToUpper(card.Kind)+" ID")
	pdf.SetXY(4, 19)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(50, 5, card.Name)
	pdf.SetXY(4, 25)
	pdf.SetFont("Arial", "", 8)
	pdf.Cell(50, 4, card.Number)
	pdf.SetXY(4, 30)
	pdf.Cell(50, 4, card.Subtitle)

	name := "qr-" + card.Number
	pdf.RegisterImageOptionsReader(name, gofpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(png))
	pdf.ImageOptions(name, 56, 14, 26, 26, false, gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	pdf.SetXY(4, 46)
	pdf.SetFont("Arial", "I", 6)
	pdf.SetTextColor(100, 100, 100)
	pdf.Cell(77.6, 3, fmt.Sprintf("Issued %s", g.Now().Format("2006-01-02")))

	return finish(pdf, w)
}

// Certificate confirms completion of the course.
func (g *Generator) Certificate(w io.Writer, student *models.Student, state *reconciliation.StudentState, average, passMark float64) error {
	if err := CanIssueCertificate(state, average, passMark); err != nil {
		return err
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Certificate", false)
	pdf.AddPage()

	pdf.SetDrawColor(40, 145, 108)
	pdf.SetLineWidth(1.5)
	pdf.Rect(10, 10, 277, 190, "D")

	pdf.SetY(30)
	pdf.SetFont("Arial", "B", 22)
	pdf.CellFormat(0, 12, strings.ToUpper(g.SchoolName), "", 1, "C", false, 0, "")
	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 28)
	title := "CERTIFICATE OF COMPLETION"
	if student.Course.CertificationType == models.CertificationDiploma {
		title = "DIPLOMA"
	}
	pdf.CellFormat(0, 14, title, "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 13)
	pdf.CellFormat(0, 8, "This is to certify that", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 20)
	pdf.CellFormat(0, 12, student.FullName(), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 13)
	pdf.CellFormat(0, 8, "has successfully completed the programme", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 15)
	pdf.CellFormat(0, 10, student.Course.Name, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 8, fmt.Sprintf("Admission Number %s  |  Final average %.1f%%", admissionOrDash(student), average), "", 1, "C", false, 0, "")

	pdf.Ln(18)
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 5, "_________________________________________", "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 5, fmt.Sprintf("Registrar, %s", g.Now().Format("January 02, 2006")), "", 1, "C", false, 0, "")

	return finish(pdf, w)
}
