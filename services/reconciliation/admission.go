package reconciliation

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"schoolreg/models"
)

var abbreviationStopWords = map[string]bool{
	"of": true, "and": true, "the": true, "in": true, "for": true, "&": true,
}

// CourseAbbreviation returns the configured abbreviation, else the initials of the course name.
func CourseAbbreviation(course models.Course) string {
	if abbr := strings.TrimSpace(course.Abbreviation); abbr != "" {
		return strings.ToUpper(abbr)
	}
	var b strings.Builder
	for _, word := range strings.Fields(course.Name) {
		if abbreviationStopWords[strings.ToLower(word)] {
			continue
		}
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(unicode.ToUpper(r))
				break
			}
		}
	}
	if b.Len() == 0 {
		return "GEN"
	}
	return b.String()
}

// certificationCode is DIP for diploma courses and CERT otherwise.
func certificationCode(course models.Course) string {
	if strings.EqualFold(course.CertificationType, models.CertificationDiploma) {
		return "DIP"
	}
	return "CERT"
}

// GenerateAdmissionNumber renders {ABBR}/{YEAR}/{CERT|DIP}/{NNN}.
// intn must return a value in [0, n).
func GenerateAdmissionNumber(course models.Course, now time.Time, intn func(n int) int) string {
	return fmt.Sprintf("%s/%d/%s/%03d", CourseAbbreviation(course), now.Year(), certificationCode(course), intn(1000))
}

// NewApplicationNumber renders APP{YEAR}{6 digits}.
func NewApplicationNumber(now time.Time, intn func(n int) int) string {
	return fmt.Sprintf("APP%d%06d", now.Year(), intn(1000000))
}

// InferInstallmentType picks the installment phase of a new registration payment.
// A hint of "full" or "first" is used as given; "second" and "half" resolve to
// first or second depending on whether anything was paid before.
func InferInstallmentType(hint string, amountMinor, paidBeforeMinor, feeMinor int64) string {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case models.PhaseFull:
		return models.PhaseFull
	case models.PhaseFirst:
		return models.PhaseFirst
	case models.PhaseSecond, models.InstallmentTypeHalf:
		// nothing paid yet means this is the opening instalment whatever the hint says
		if paidBeforeMinor > 0 {
			return models.PhaseSecond
		}
		return models.PhaseFirst
	}
	switch {
	case amountMinor >= feeMinor:
		return models.PhaseFull
	case paidBeforeMinor > 0:
		return models.PhaseSecond
	default:
		return models.PhaseFirst
	}
}

// PersistedInstallmentType narrows a phase to the two-valued installment_type column.
func PersistedInstallmentType(phase string) string {
	if phase == models.PhaseFull {
		return models.InstallmentTypeFull
	}
	return models.InstallmentTypeHalf
}

// ValidInstallmentHint reports whether a caller-supplied hint is understood.
func ValidInstallmentHint(hint string) bool {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "", models.PhaseFull, models.PhaseFirst, models.PhaseSecond, models.InstallmentTypeHalf:
		return true
	}
	return false
}
