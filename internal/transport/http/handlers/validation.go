package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/transport/http/middleware"
)

// sniffLength bounds how much of an upload is read for content detection.
const sniffLength = 3072

// InputValidator validates user supplied fields, forms and uploads.
type InputValidator interface {
	ValidateField(ctx context.Context, fieldName, value string, rule domain.FieldRule, fctx *domain.FieldContext) domain.ValidationResult
	ValidateForm(ctx context.Context, values map[string]string, rules map[string]domain.FieldRule, fctx *domain.FieldContext) domain.FormValidationResult
	ValidateFile(ctx context.Context, file domain.FileInput, rule domain.FileRule) domain.ValidationResult
}

// ValidationHandler exposes the input validation services over HTTP.
type ValidationHandler struct {
	validator InputValidator
}

func NewValidationHandler(validator InputValidator) *ValidationHandler {
	return &ValidationHandler{validator: validator}
}

// RegisterRoutes binds validation routes to the provided router group.
func (h *ValidationHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.POST("/field", h.ValidateField)
	r.POST("/form", h.ValidateForm)
	r.POST("/file", h.ValidateFile)
}

func (h *ValidationHandler) ValidateField(c *gin.Context) {
	var req ValidateFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, "field and a well-formed rule are required")
		return
	}

	rule, err := req.Rule.toDomain()
	if err != nil {
		respondInvalidRequest(c, err.Error())
		return
	}

	result := h.validator.ValidateField(c.Request.Context(), req.Field, req.Value, rule, fieldContext(c, req.FormName))
	c.JSON(http.StatusOK, newValidationResultResponse(result))
}

func (h *ValidationHandler) ValidateForm(c *gin.Context) {
	var req ValidateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, "rules are required")
		return
	}

	rules := make(map[string]domain.FieldRule, len(req.Rules))
	for name, raw := range req.Rules {
		rule, err := raw.toDomain()
		if err != nil {
			respondInvalidRequest(c, name+": "+err.Error())
			return
		}
		rules[name] = rule
	}

	result := h.validator.ValidateForm(c.Request.Context(), req.Values, rules, fieldContext(c, req.FormName))

	resp := FormValidationResponse{
		IsValid:         result.IsValid,
		Fields:          make(map[string]ValidationResultResponse, len(result.Fields)),
		SanitizedValues: result.SanitizedValues,
		RiskLevel:       string(result.RiskLevel),
	}
	for name, field := range result.Fields {
		resp.Fields[name] = newValidationResultResponse(field)
	}
	c.JSON(http.StatusOK, resp)
}

// ValidateFile accepts a multipart upload under "file" with optional allowed_types and max_size fields.
func (h *ValidationHandler) ValidateFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		respondInvalidRequest(c, "file is required")
		return
	}

	var rule domain.FileRule
	if raw := strings.TrimSpace(c.PostForm("max_size")); raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || size <= 0 {
			respondInvalidRequest(c, "max_size must be a positive integer")
			return
		}
		rule.MaxSize = size
	}
	for _, value := range c.PostFormArray("allowed_types") {
		for _, mediaType := range strings.Split(value, ",") {
			if mediaType = strings.TrimSpace(mediaType); mediaType != "" {
				rule.AllowedTypes = append(rule.AllowedTypes, mediaType)
			}
		}
	}

	file, err := header.Open()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "Internal server error", CodeInternal))
		return
	}
	defer file.Close()

	head, err := io.ReadAll(io.LimitReader(file, sniffLength))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "Internal server error", CodeInternal))
		return
	}

	result := h.validator.ValidateFile(c.Request.Context(), domain.FileInput{
		Name:        header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Head:        head,
	}, rule)
	c.JSON(http.StatusOK, newValidationResultResponse(result))
}

func fieldContext(c *gin.Context, formName string) *domain.FieldContext {
	userID, _ := middleware.GetAuthenticatedUserID(c)
	return &domain.FieldContext{
		UserID:    userID,
		FormName:  formName,
		IPAddress: c.ClientIP(),
	}
}
