package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"schoolreg/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// ObjectStore is what the controllers need from file storage.
type ObjectStore interface {
	UploadFile(ctx context.Context, file *multipart.FileHeader, folder string, ownerID uint) (string, error)
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, fileURL string) error
}

type StorageService struct {
	s3Client *s3.Client
	bucket   string
	region   string
}

var _ ObjectStore = (*StorageService)(nil)

// NewStorageService creates a new storage service
func NewStorageService(ctx context.Context) (*StorageService, error) {
	opts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(config.AppConfig.AWSRegion),
	}
	if config.AppConfig.AWSAccessKeyID != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			config.AppConfig.AWSAccessKeyID,
			config.AppConfig.AWSSecretAccessKey,
			"",
		)))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %v", err)
	}
	if config.AppConfig.S3BucketName == "" {
		return nil, fmt.Errorf("S3_BUCKET_NAME is not set")
	}

	return &StorageService{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   config.AppConfig.S3BucketName,
		region:   config.AppConfig.AWSRegion,
	}, nil
}

// UploadFile uploads a multipart file under folder/ownerID/yyyy/mm/dd and returns its public URL.
// Images are converted to WebP when cwebp is installed.
func (s *StorageService) UploadFile(ctx context.Context, file *multipart.FileHeader, folder string, ownerID uint) (string, error) {
	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %v", err)
	}
	defer src.Close()

	fileBytes, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %v", err)
	}

	extension := FileExtension(file.Filename)
	if isImageExtension(extension) {
		if webp, ok := convertToWebP(fileBytes); ok {
			fileBytes = webp
			extension = "webp"
		}
	}

	key := ObjectKey(folder, ownerID, time.Now(), uuid.New().String()[:16], extension)
	if err := s.PutObject(ctx, key, fileBytes, ContentType(extension)); err != nil {
		return "", err
	}
	return s.publicURL(key), nil
}

func (s *StorageService) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %v", err)
	}
	return nil
}

func (s *StorageService) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %v", err)
	}
	return out.Body, nil
}

// DeleteFile deletes a file from S3
func (s *StorageService) DeleteFile(ctx context.Context, fileURL string) error {
	key := KeyFromURL(fileURL)
	if key == "" {
		return fmt.Errorf("invalid file URL")
	}

	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *StorageService) publicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// ObjectKey builds folder/owner/yyyy/mm/dd/id.ext.
func ObjectKey(folder string, ownerID uint, now time.Time, id, extension string) string {
	key := fmt.Sprintf("%s/%d/%d/%02d/%02d/%s", folder, ownerID, now.Year(), now.Month(), now.Day(), id)
	if extension != "" {
		key += "." + extension
	}
	return key
}

// FileExtension returns the lower-case extension without the dot.
func FileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 1 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

func isImageExtension(ext string) bool {
	switch ext {
	case "jpg", "jpeg", "png", "gif", "bmp", "tiff":
		return true
	}
	return false
}

// ContentType returns the MIME type for the file extension
func ContentType(extension string) string {
	switch strings.ToLower(extension) {
	case "webp":
		return "image/webp"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "pdf":
		return "application/pdf"
	case "doc":
		return "application/msword"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

// KeyFromURL extracts the S3 key from a full URL
func KeyFromURL(url string) string {
	// https://bucket.s3.region.amazonaws.com/path/to/file.ext
	parts := strings.SplitN(url, ".amazonaws.com/", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// convertToWebP shells out to cwebp. ok is false when the tool is missing or fails.
func convertToWebP(imageBytes []byte) ([]byte, bool) {
	cwebpPath, err := exec.LookPath("cwebp")
	if err != nil {
		return nil, false
	}

	inFile, err := os.CreateTemp("", "img-input-*")
	if err != nil {
		return nil, false
	}
	defer func() {
		inFile.Close()
		os.Remove(inFile.Name())
	}()
	if _, err := inFile.Write(imageBytes); err != nil {
		return nil, false
	}

	outFile, err := os.CreateTemp("", "img-out-*.webp")
	if err != nil {
		return nil, false
	}
	outFile.Close()
	defer os.Remove(outFile.Name())

	cmd := exec.Command(cwebpPath, "-q", "80", inFile.Name(), "-o", outFile.Name())
	if err := cmd.Run(); err != nil {
		return nil, false
	}

	outBytes, err := os.ReadFile(outFile.Name())
	if err != nil {
		return nil, false
	}
	return outBytes, true
}
