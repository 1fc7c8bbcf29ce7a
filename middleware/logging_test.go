package middleware

import (
	"testing"
	"time"

	"schoolreg/models"

	"github.com/gofiber/fiber/v2"
)

func TestActivityAction(t *testing.T) {
	tests := []struct {
		method string
		want   string
		ok     bool
	}{
		{fiber.MethodPost, "CREATE", true},
		{fiber.MethodPut, "UPDATE", true},
		{fiber.MethodPatch, "UPDATE", true},
		{fiber.MethodDelete, "DELETE", true},
		{fiber.MethodGet, "", false},
	}
	for _, tc := range tests {
		got, ok := ActivityAction(tc.method)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ActivityAction(%s) = %q,%v want %q,%v", tc.method, got, ok, tc.want, tc.ok)
		}
	}
}

func TestActivityResource(t *testing.T) {
	tests := map[string]string{
		"/api/admin/students/12":      "students",
		"/api/payment/verify":         "payment",
		"/api/student/setup-security": "student",
		"/health":                     "",
	}
	for path, want := range tests {
		if got := ActivityResource(path); got != want {
			t.Fatalf("ActivityResource(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestIntegrityHashChangesWithContent(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := models.ActivityLog{BaseModel: models.BaseModel{CreatedAt: at}, ActorID: 1, ActorType: "staff", Action: "CREATE", Resource: "students"}
	b := a
	b.Action = "DELETE"
	if integrityHash(a) == integrityHash(b) {
		t.Fatal("expected different hashes for different actions")
	}
	if integrityHash(a) != integrityHash(a) {
		t.Fatal("hash must be deterministic")
	}
}
