package reconciliation

import (
	"math"

	"schoolreg/models"
)

// Payment status labels of the derived view.
const (
	StatusCompleted = "Completed"
	StatusPartial   = "Partial"
	StatusPending   = "Pending"
)

// Next steps of the registration funnel.
const (
	StepPayRegistration     = "payRegistration"
	StepSetupSecurity       = "setupSecurity"
	StepPaySecondInstalment = "paySecondInstallment"
	StepDownloadReceipt     = "downloadReceipt"
)

// ToMinor converts a major-unit amount to minor units.
func ToMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinor converts minor units back to major units.
func FromMinor(minor int64) float64 {
	return float64(minor) / 100
}

// Totals aggregates a student's Registration payments.
type Totals struct {
	PaidMinor            int64
	Count                int
	MaxInstallmentNumber int
	// LastPhase is the installment phase of the most recent payment, empty when there is none.
	LastPhase string
}

// Summarize folds payments, oldest first, into Totals.
func Summarize(payments []models.Payment) Totals {
	var t Totals
	for _, p := range payments {
		if p.Status == models.PaymentFailed || p.PaymentType != models.PaymentTypeRegistration {
			continue
		}
		t.PaidMinor += ToMinor(p.Amount)
		t.Count++
		if p.InstallmentNumber > t.MaxInstallmentNumber {
			t.MaxInstallmentNumber = p.InstallmentNumber
		}
		t.LastPhase = p.InstallmentPhase
	}
	return t
}

// StudentState is the derived registration view shared by every read path.
type StudentState struct {
	ID                uint     `json:"id"`
	Name              string   `json:"name"`
	Email             string   `json:"email"`
	Phone             string   `json:"phone"`
	ApplicationNumber string   `json:"applicationNumber"`
	AdmissionNumber   string   `json:"admissionNumber,omitempty"`
	CourseID          uint     `json:"courseId"`
	Course            string   `json:"course"`
	Status            string   `json:"status"`
	RegistrationFee   float64  `json:"registrationFee"`
	TotalPaid         float64  `json:"totalPaid"`
	Balance           float64  `json:"balance"`
	InstallmentNumber int      `json:"installmentNumber"`
	InstallmentType   string   `json:"installmentType,omitempty"`
	PaymentStatus     string   `json:"paymentStatus"`
	PaymentOptions    []string `json:"paymentOptions"`
	NextStep          string   `json:"nextStep"`
	HasPassword       bool     `json:"hasPassword"`
}

// FullyPaid reports whether the registration fee is covered.
func (s *StudentState) FullyPaid() bool {
	return ToMinor(s.TotalPaid) >= ToMinor(s.RegistrationFee)
}

// Derive computes the registration view of a student from its payment totals.
// The student must carry its Course.
func Derive(student *models.Student, totals Totals) *StudentState {
	feeMinor := ToMinor(student.Course.RegistrationFee)
	paid := totals.PaidMinor
	hasAdmission := student.AdmissionNumber != nil && *student.AdmissionNumber != ""

	state := &StudentState{
		ID:                student.ID,
		Name:              student.FullName(),
		Email:             student.Email,
		Phone:             student.Phone,
		ApplicationNumber: student.ApplicationNumber,
		CourseID:          student.CourseID,
		Course:            student.Course.Name,
		Status:            student.Status,
		RegistrationFee:   FromMinor(feeMinor),
		TotalPaid:         FromMinor(paid),
		Balance:           FromMinor(max(feeMinor-paid, 0)),
		InstallmentNumber: totals.MaxInstallmentNumber,
		InstallmentType:   totals.LastPhase,
		HasPassword:       student.HasPassword(),
	}
	if hasAdmission {
		state.AdmissionNumber = *student.AdmissionNumber
	}

	switch {
	case paid >= feeMinor:
		state.PaymentStatus = StatusCompleted
	case paid > 0:
		state.PaymentStatus = StatusPartial
	case hasAdmission:
		// admitted with nothing paid, e.g. seeded by staff
		state.PaymentStatus = StatusPartial
	default:
		state.PaymentStatus = StatusPending
	}

	switch {
	case paid >= feeMinor:
		state.PaymentOptions = []string{}
	case paid == 0 && !hasAdmission:
		state.PaymentOptions = []string{"Full", "Installment"}
	default:
		state.PaymentOptions = []string{"Installment"}
	}

	switch {
	case paid == 0 || !hasAdmission:
		state.NextStep = StepPayRegistration
	case !state.HasPassword:
		state.NextStep = StepSetupSecurity
	case paid < feeMinor:
		state.NextStep = StepPaySecondInstalment
	default:
		state.NextStep = StepDownloadReceipt
	}
	return state
}
