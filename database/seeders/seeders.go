package seeders

import (
	"os"

	"schoolreg/database"
	"schoolreg/models"
	"schoolreg/utils"

	"github.com/sirupsen/logrus"
)

// SeedAll runs all seeders
func SeedAll() error {
	logrus.Info("Starting database seeding...")

	if err := SeedCourses(); err != nil {
		return err
	}
	if err := SeedAdmin(); err != nil {
		return err
	}

	logrus.Info("Database seeding completed successfully")
	return nil
}

// DefaultCourses is the starter catalogue used on an empty database.
func DefaultCourses() []models.Course {
	return []models.Course{
		{
			Name:              "Computer Applications",
			Code:              "CA101",
			Abbreviation:      "CA",
			CertificationType: models.CertificationCertificate,
			ApplicationFee:    5000,
			RegistrationFee:   60000,
			Duration:          "6 months",
			Schedule:          "Weekdays 9:00-13:00",
			Active:            true,
		},
		{
			Name:              "Business Administration",
			Code:              "BA201",
			Abbreviation:      "BA",
			CertificationType: models.CertificationDiploma,
			ApplicationFee:    7500,
			RegistrationFee:   150000,
			Duration:          "12 months",
			Schedule:          "Weekdays 14:00-18:00",
			Active:            true,
		},
		{
			Name:              "Fashion and Design",
			Code:              "FD110",
			CertificationType: models.CertificationCertificate,
			ApplicationFee:    5000,
			RegistrationFee:   80000,
			Duration:          "9 months",
			Schedule:          "Saturdays 9:00-15:00",
			Active:            true,
		},
	}
}

// SeedCourses seeds the courses table
func SeedCourses() error {
	var count int64
	database.DB.Model(&models.Course{}).Count(&count)
	if count > 0 {
		logrus.Info("Courses already seeded, skipping...")
		return nil
	}

	courses := DefaultCourses()
	if err := database.DB.Create(&courses).Error; err != nil {
		return err
	}
	logrus.WithField("count", len(courses)).Info("Seeded courses")
	return nil
}

// SeedAdmin creates the first Admin account when no Admin exists.
// ADMIN_USERNAME and ADMIN_PASSWORD override the defaults; without a password one is generated and logged once.
func SeedAdmin() error {
	var count int64
	database.DB.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count)
	if count > 0 {
		logrus.Info("Admin account already exists, skipping...")
		return nil
	}

	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = "admin"
	}
	password := os.Getenv("ADMIN_PASSWORD")
	generated := password == ""
	if generated {
		var err error
		if password, err = utils.GenerateRandomString(16); err != nil {
			return err
		}
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	admin := models.User{
		Username:     username,
		PasswordHash: hash,
		Email:        os.Getenv("ADMIN_EMAIL"),
		Role:         models.RoleAdmin,
		Status:       "active",
	}
	if admin.Email == "" {
		admin.Email = username + "@localhost"
	}
	if err := database.DB.Create(&admin).Error; err != nil {
		return err
	}

	entry := logrus.WithField("username", username)
	if generated {
		entry = entry.WithField("password", password)
	}
	entry.Warn("Created initial Admin account; change the password after first login")
	return nil
}
