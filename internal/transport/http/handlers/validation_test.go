package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/session-security/internal/usecase"
)

func newValidationRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service := usecase.NewValidationService(nil, usecase.ValidationConfig{
		MaxFileSize:      1024,
		AllowedFileTypes: []string{"text/plain", "image/png"},
	}, zaptest.NewLogger(t))

	router := gin.New()
	NewValidationHandler(service).RegisterRoutes(router.Group("/api/v1/validation"))
	return router
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestValidateFieldFlagsScript(t *testing.T) {
	rr := postJSON(newValidationRouter(t), "/api/v1/validation/field", map[string]any{
		"field": "bio",
		"value": `<script>alert(1)</script>`,
		"rule":  map[string]any{"type": "general"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body ValidationResultResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.IsValid || body.RiskLevel != "critical" {
		t.Fatalf("expected invalid critical result, got %+v", body)
	}
	if bytes.Contains([]byte(body.SanitizedValue), []byte("<script")) {
		t.Fatalf("expected script to be sanitized, got %q", body.SanitizedValue)
	}
}

func TestValidateFieldRejectsBadRule(t *testing.T) {
	router := newValidationRouter(t)

	rr := postJSON(router, "/api/v1/validation/field", map[string]any{
		"field": "code",
		"value": "abc",
		"rule":  map[string]any{"pattern": "(unclosed"},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad pattern, got %d", rr.Code)
	}

	rr = postJSON(router, "/api/v1/validation/field", map[string]any{
		"field": "code",
		"value": "abc",
		"rule":  map[string]any{"type": "custom"},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported type, got %d", rr.Code)
	}
}

func TestValidateFormAggregates(t *testing.T) {
	rr := postJSON(newValidationRouter(t), "/api/v1/validation/form", map[string]any{
		"form_name": "signup",
		"values":    map[string]string{"email": "not-an-email", "name": "Ada"},
		"rules": map[string]any{
			"email": map[string]any{"required": true, "type": "email"},
			"name":  map[string]any{"required": true, "max_length": 20},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body FormValidationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.IsValid {
		t.Fatalf("expected form to be invalid")
	}
	if !body.Fields["name"].IsValid || body.Fields["email"].IsValid {
		t.Fatalf("unexpected field results %+v", body.Fields)
	}
	if body.SanitizedValues["name"] != "Ada" {
		t.Fatalf("expected sanitized name, got %v", body.SanitizedValues)
	}
}

func uploadFile(t *testing.T, router *gin.Engine, filename, contentType string, content []byte, allowed string) ValidationResultResponse {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if allowed != "" {
		if err := writer.WriteField("allowed_types", allowed); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/validation/file", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body ValidationResultResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestValidateFileAcceptsPlainText(t *testing.T) {
	body := uploadFile(t, newValidationRouter(t), "notes.txt", "text/plain", []byte("hello world\n"), "")
	if !body.IsValid {
		t.Fatalf("expected text upload to be valid, got %+v", body)
	}
}

func TestValidateFileRejectsDangerousExtension(t *testing.T) {
	body := uploadFile(t, newValidationRouter(t), "invoice.exe", "text/plain", []byte("MZ"), "text/plain")
	if body.IsValid || body.RiskLevel != "critical" {
		t.Fatalf("expected critical invalid result, got %+v", body)
	}
}

func TestValidateFileRequiresFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validation/file", nil)
	rr := httptest.NewRecorder()
	newValidationRouter(t).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
