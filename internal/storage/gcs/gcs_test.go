package gcs

import (
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"

	appconfig "github.com/opsconsole/opsconsole/internal/config"
)

func TestNew_MissingBucket(t *testing.T) {
	if _, err := New(&appconfig.GCSStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_ServiceAccountNoCredentials(t *testing.T) {
	cfg := &appconfig.GCSStorageConfig{
		Bucket:     "my-bucket",
		AuthMethod: "service_account",
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for service_account without credentials")
	}
}

func TestNew_UnsupportedAuthMethod(t *testing.T) {
	cfg := &appconfig.GCSStorageConfig{
		Bucket:     "my-bucket",
		AuthMethod: "not-a-valid-method",
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for unsupported auth_method")
	}
}

func TestNew_EmulatorEndpoint(t *testing.T) {
	s, err := New(&appconfig.GCSStorageConfig{
		Bucket:   "my-bucket",
		Endpoint: "http://localhost:4443/storage/v1/",
	})
	if err != nil {
		t.Fatalf("New() with emulator endpoint error: %v", err)
	}
	defer s.Close()
	if s.bucket != "my-bucket" {
		t.Errorf("bucket = %q", s.bucket)
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&googleapi.Error{Code: http.StatusPreconditionFailed}, true},
		{fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusPreconditionFailed}), true},
		{&googleapi.Error{Code: http.StatusForbidden}, false},
		{fmt.Errorf("plain"), false},
	}
	for _, tt := range tests {
		if got := isPreconditionFailed(tt.err); got != tt.want {
			t.Errorf("isPreconditionFailed(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
