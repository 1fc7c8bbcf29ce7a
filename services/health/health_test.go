package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingHub int

func (h countingHub) GetClientCount() int { return int(h) }

func TestReportWithoutDatabaseIsCritical(t *testing.T) {
	s := NewService(Options{PaymentGateway: "paystack"}, nil, nil, countingHub(3))
	r := s.Report(context.Background())

	assert.Equal(t, StatusCritical, r.Status)
	assert.Equal(t, 503, HTTPStatus(r.Status))
	assert.Equal(t, "School Registration API", r.Service)
	assert.Equal(t, 3, r.Runtime.LiveFeedUsers)
	if assert.Len(t, r.Dependencies, 3) {
		assert.Equal(t, dependencyDown, r.Dependencies[0].Status)
		assert.Equal(t, dependencyDisabled, r.Dependencies[1].Status)
		assert.Equal(t, "paystack", r.Dependencies[2].Details["provider"])
	}
}

func TestCombineStatus(t *testing.T) {
	tests := []struct{ current, candidate, want string }{
		{StatusOK, StatusOK, StatusOK},
		{StatusOK, StatusDegraded, StatusDegraded},
		{StatusDegraded, StatusOK, StatusDegraded},
		{StatusDegraded, StatusCritical, StatusCritical},
		{"bogus", StatusDegraded, StatusDegraded},
		{StatusCritical, "bogus", StatusCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, combineStatus(tt.current, tt.candidate), "%s + %s", tt.current, tt.candidate)
	}
}

func TestHumanizeDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{time.Hour + 2*time.Second, "1h 2s"},
		{50*time.Hour + 3*time.Minute, "2d 2h 3m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, humanizeDuration(tt.in))
	}
	assert.Equal(t, 200, HTTPStatus(StatusDegraded))
}
