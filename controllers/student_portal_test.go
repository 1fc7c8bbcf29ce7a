package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"schoolreg/config"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/services/reconciliation"
	"schoolreg/storage"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// The MySQL enum column types do not parse on SQLite, so the tables the
// portal touches are declared by hand.
var portalSchema = []string{
	`CREATE TABLE courses (
		id INTEGER PRIMARY KEY AUTOINCREMENT, created_at DATETIME, updated_at DATETIME,
		name TEXT NOT NULL, code TEXT NOT NULL UNIQUE, abbreviation TEXT,
		certification_type TEXT NOT NULL DEFAULT 'Certificate',
		application_fee REAL NOT NULL DEFAULT 0, registration_fee REAL NOT NULL,
		duration TEXT, schedule TEXT, description TEXT, active NUMERIC DEFAULT 1)`,
	`CREATE TABLE students (
		id INTEGER PRIMARY KEY AUTOINCREMENT, created_at DATETIME, updated_at DATETIME,
		first_name TEXT NOT NULL, last_name TEXT NOT NULL, email TEXT NOT NULL UNIQUE, phone TEXT,
		application_number TEXT NOT NULL UNIQUE, admission_number TEXT UNIQUE,
		course_id INTEGER NOT NULL, status TEXT NOT NULL DEFAULT 'Applied',
		password_hash TEXT, security_question TEXT, security_answer_hash TEXT,
		gender TEXT, date_of_birth DATETIME, address TEXT, next_of_kin TEXT,
		next_of_kin_phone TEXT, photo_url TEXT, registration_completed_at DATETIME)`,
	`CREATE TABLE payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT, created_at DATETIME, updated_at DATETIME,
		student_id INTEGER NOT NULL, payment_type TEXT NOT NULL, amount REAL NOT NULL,
		installment_number INTEGER NOT NULL DEFAULT 1, total_installments INTEGER NOT NULL DEFAULT 1,
		installment_type TEXT NOT NULL DEFAULT 'full', installment_phase TEXT NOT NULL DEFAULT 'full',
		status TEXT NOT NULL DEFAULT 'Pending', reference TEXT NOT NULL UNIQUE,
		gateway TEXT, currency TEXT, gateway_response BLOB, paid_at DATETIME)`,
}

func usePortalDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	for _, ddl := range portalSchema {
		require.NoError(t, db.Exec(ddl).Error)
	}
	require.NoError(t, db.AutoMigrate(&models.QualificationDocument{}, &models.ActivityLog{}))

	prevDB, prevConfig := database.DB, config.AppConfig
	database.DB = db
	config.AppConfig = &config.Config{
		JWTSecret:         "test-secret-at-least-16",
		JWTExpiresIn:      time.Hour,
		SessionCookieName: "schoolreg_session",
		AppEnv:            "test",
		MaxFileSize:       1 << 20,
		AllowedExtensions: "pdf,jpg,png",
	}
	t.Cleanup(func() {
		database.DB, config.AppConfig = prevDB, prevConfig
		sqlDB.Close()
	})
	return db
}

type portalFixture struct {
	db       *gorm.DB
	admitted models.Student
	applied  models.Student
}

const portalReference = "REG-WD-0001"

func newPortalFixture(t *testing.T) *portalFixture {
	t.Helper()
	db := usePortalDB(t)

	course := models.Course{Name: "Web Development", Code: "WD101", Abbreviation: "wd",
		CertificationType: models.CertificationCertificate, ApplicationFee: 25, RegistrationFee: 275, Active: true}
	require.NoError(t, db.Create(&course).Error)

	admission := "WD/2026/CERT/042"
	f := &portalFixture{
		db: db,
		admitted: models.Student{FirstName: "Amina", LastName: "Bello", Email: "amina@example.com",
			ApplicationNumber: "APP2026000001", AdmissionNumber: &admission, CourseID: course.ID,
			Status: models.StudentRegistered},
		applied: models.Student{FirstName: "Tunde", LastName: "Ade", Email: "tunde@example.com",
			ApplicationNumber: "APP2026000002", CourseID: course.ID, Status: models.StudentApplied},
	}
	require.NoError(t, db.Omit(clause.Associations).Create(&f.admitted).Error)
	require.NoError(t, db.Omit(clause.Associations).Create(&f.applied).Error)

	paidAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&models.Payment{
		StudentID: f.admitted.ID, PaymentType: models.PaymentTypeRegistration, Amount: 275,
		InstallmentNumber: 1, TotalInstallments: 1, InstallmentType: models.InstallmentTypeFull,
		InstallmentPhase: models.PhaseFull, Status: models.PaymentCompleted,
		Reference: portalReference, Gateway: "paystack", Currency: "NGN", PaidAt: &paidAt,
	}).Error)
	return f
}

func (f *portalFixture) engine() *reconciliation.Engine {
	return reconciliation.NewEngine(reconciliation.NewGormStore(f.db), nil)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return body
}

func setupSecurityBody(applicationNumber, email, reference string) string {
	return fmt.Sprintf(`{"application_number":%q,"email":%q,"payment_reference":%q,`+
		`"password":"s3cure-pass","security_question":"First school?","security_answer":" Greenfield "}`,
		applicationNumber, email, reference)
}

func postSetupSecurity(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/student/setup-security", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestSetupSecurityRequiresMatchingDetails(t *testing.T) {
	tests := []struct {
		name       string
		body       func(f *portalFixture) string
		wantStatus int
	}{
		{"unknown application number", func(f *portalFixture) string {
			return setupSecurityBody("APP2026999999", f.admitted.Email, portalReference)
		}, fiber.StatusUnauthorized},
		{"email of another student", func(f *portalFixture) string {
			return setupSecurityBody(f.admitted.ApplicationNumber, f.applied.Email, portalReference)
		}, fiber.StatusUnauthorized},
		{"reference not paid by the student", func(f *portalFixture) string {
			return setupSecurityBody(f.admitted.ApplicationNumber, f.admitted.Email, "REG-OTHER")
		}, fiber.StatusUnauthorized},
		{"no admission number yet", func(f *portalFixture) string {
			return setupSecurityBody(f.applied.ApplicationNumber, f.applied.Email, portalReference)
		}, fiber.StatusForbidden},
		{"missing reference", func(f *portalFixture) string {
			return `{"application_number":"APP2026000001","email":"amina@example.com","password":"s3cure-pass","security_question":"q","security_answer":"a"}`
		}, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPortalFixture(t)
			app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
			app.Post("/api/student/setup-security", NewStudentPortalController(f.engine(), nil).SetupSecurity)

			resp := postSetupSecurity(t, app, tt.body(f))
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body := decodeBody(t, resp)
			assert.Equal(t, false, body["success"])

			var stored models.Student
			require.NoError(t, f.db.First(&stored, f.admitted.ID).Error)
			assert.False(t, stored.HasPassword())
		})
	}
}

func TestSetupSecurityOnce(t *testing.T) {
	f := newPortalFixture(t)
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Post("/api/student/setup-security", NewStudentPortalController(f.engine(), nil).SetupSecurity)

	// case and whitespace in the email are not part of the identity
	resp := postSetupSecurity(t, app, setupSecurityBody(f.admitted.ApplicationNumber, " Amina@Example.com ", portalReference))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	state := body["student"].(map[string]interface{})
	assert.Equal(t, true, state["hasPassword"])
	assert.Equal(t, reconciliation.StepDownloadReceipt, state["nextStep"])

	var stored models.Student
	require.NoError(t, f.db.First(&stored, f.admitted.ID).Error)
	require.True(t, stored.HasPassword())
	assert.NoError(t, utils.CheckPassword("s3cure-pass", stored.PasswordHash))
	assert.NoError(t, utils.CheckPassword(utils.NormalizeAnswer("greenfield"), stored.SecurityAnswerHash))
	assert.Equal(t, "First school?", stored.SecurityQuestion)

	resp = postSetupSecurity(t, app, setupSecurityBody(f.admitted.ApplicationNumber, f.admitted.Email, portalReference))
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	var again models.Student
	require.NoError(t, f.db.First(&again, f.admitted.ID).Error)
	assert.Equal(t, stored.PasswordHash, again.PasswordHash)
}

type fakeObjectStore struct {
	err     error
	uploads int
}

var _ storage.ObjectStore = (*fakeObjectStore)(nil)

func (s *fakeObjectStore) UploadFile(_ context.Context, file *multipart.FileHeader, folder string, ownerID uint) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.uploads++
	return fmt.Sprintf("https://files.example.com/%s/%d/%s", folder, ownerID, file.Filename), nil
}

func (s *fakeObjectStore) PutObject(context.Context, string, []byte, string) error { return s.err }

func (s *fakeObjectStore) GetObject(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not found")
}

func (s *fakeObjectStore) DeleteFile(context.Context, string) error { return s.err }

func registrationForm(t *testing.T, files ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"gender", "female"},
		{"date_of_birth", "2001-05-14"},
		{"address", "12 Marina Road, Lagos"},
		{"next_of_kin", "Kemi Bello"},
		{"next_of_kin_phone", "08030000000"},
	}
	for _, kv := range fields {
		require.NoError(t, w.WriteField(kv[0], kv[1]))
	}
	for _, name := range files {
		part, err := w.CreateFormFile("qualifications", name)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4 certificate"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func completeRegistrationApp(student *models.Student, store storage.ObjectStore, engine *reconciliation.Engine) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Post("/api/student/complete-registration", func(c *fiber.Ctx) error {
		c.Locals("student", student)
		return c.Next()
	}, NewStudentPortalController(engine, store).CompleteRegistration)
	return app
}

func TestCompleteRegistration(t *testing.T) {
	tests := []struct {
		name        string
		store       func() *fakeObjectStore
		files       []string
		wantDocs    int
		wantWarning string
	}{
		{"uploads stored", func() *fakeObjectStore { return &fakeObjectStore{} }, []string{"waec.pdf"}, 1, ""},
		{"storage unavailable", func() *fakeObjectStore { return nil }, []string{"waec.pdf"}, 0, "file storage is unavailable"},
		{"upload fails", func() *fakeObjectStore { return &fakeObjectStore{err: errors.New("s3 timeout")} }, []string{"waec.pdf"}, 0, "could not be uploaded"},
		{"rejected file type", func() *fakeObjectStore { return &fakeObjectStore{} }, []string{"waec.pdf", "macro.exe"}, 1, "macro.exe has a file type that is not accepted"},
		{"no files", func() *fakeObjectStore { return &fakeObjectStore{} }, nil, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPortalFixture(t)
			var store storage.ObjectStore
			if fake := tt.store(); fake != nil {
				store = fake
			}
			app := completeRegistrationApp(&f.admitted, store, f.engine())

			body, contentType := registrationForm(t, tt.files...)
			req := httptest.NewRequest("POST", "/api/student/complete-registration", body)
			req.Header.Set("Content-Type", contentType)
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			got := decodeBody(t, resp)
			assert.Equal(t, true, got["success"])
			assert.Len(t, got["documents"], tt.wantDocs)
			if tt.wantWarning == "" {
				assert.NotContains(t, got, "warning")
			} else {
				assert.Contains(t, got["warning"], tt.wantWarning)
			}

			var stored models.Student
			require.NoError(t, f.db.First(&stored, f.admitted.ID).Error)
			assert.Equal(t, models.StudentActive, stored.Status)
			assert.Equal(t, "12 Marina Road, Lagos", stored.Address)
			assert.NotNil(t, stored.RegistrationCompletedAt)
			require.NotNil(t, stored.DateOfBirth)
			assert.Equal(t, "2001-05-14", stored.DateOfBirth.Format("2006-01-02"))

			var docs int64
			require.NoError(t, f.db.Model(&models.QualificationDocument{}).Where("student_id = ?", f.admitted.ID).Count(&docs).Error)
			assert.EqualValues(t, tt.wantDocs, docs)
		})
	}
}

func TestCompleteRegistrationKeepsLaterStatus(t *testing.T) {
	f := newPortalFixture(t)
	require.NoError(t, f.db.Model(&models.Student{}).Where("id = ?", f.admitted.ID).
		Update("status", models.StudentSuspended).Error)
	app := completeRegistrationApp(&f.admitted, &fakeObjectStore{}, f.engine())

	body, contentType := registrationForm(t)
	req := httptest.NewRequest("POST", "/api/student/complete-registration", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stored models.Student
	require.NoError(t, f.db.First(&stored, f.admitted.ID).Error)
	assert.Equal(t, models.StudentSuspended, stored.Status)
}

func TestCompleteRegistrationBeforeAdmission(t *testing.T) {
	f := newPortalFixture(t)
	store := &fakeObjectStore{}
	app := completeRegistrationApp(&f.applied, store, f.engine())

	body, contentType := registrationForm(t, "waec.pdf")
	req := httptest.NewRequest("POST", "/api/student/complete-registration", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Zero(t, store.uploads)

	var stored models.Student
	require.NoError(t, f.db.First(&stored, f.applied.ID).Error)
	assert.Equal(t, models.StudentApplied, stored.Status)
	assert.Nil(t, stored.RegistrationCompletedAt)
}
