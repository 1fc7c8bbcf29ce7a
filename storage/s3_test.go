package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "qualifications/12/2026/02/03/abc.pdf", ObjectKey("qualifications", 12, now, "abc", "pdf"))
	assert.Equal(t, "resources/1/2026/02/03/abc", ObjectKey("resources", 1, now, "abc", ""))
}

func TestKeyFromURL(t *testing.T) {
	tests := map[string]string{
		"https://bucket.s3.eu-west-1.amazonaws.com/a/b/c.pdf": "a/b/c.pdf",
		"https://example.com/a.pdf":                           "",
		"":                                                    "",
	}
	for url, want := range tests {
		assert.Equal(t, want, KeyFromURL(url), url)
	}
}

func TestFileExtensionAndContentType(t *testing.T) {
	assert.Equal(t, "pdf", FileExtension("Transcript.PDF"))
	assert.Equal(t, "", FileExtension("README"))
	assert.Equal(t, "application/pdf", ContentType("PDF"))
	assert.Equal(t, "application/octet-stream", ContentType("exe"))
}
