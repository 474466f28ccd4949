package domain

import "regexp"

// RiskLevel grades the danger of a validation outcome.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels from low (0) to critical (3).
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// Escalated reports whether the level requires an audit trail.
func (r RiskLevel) Escalated() bool {
	return r.Rank() >= RiskHigh.Rank()
}

// MaxRisk returns the more severe of two levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ValidationResult is produced per field or file and never persisted directly.
type ValidationResult struct {
	IsValid        bool
	Errors         []string
	Warnings       []string
	SanitizedValue string
	RiskLevel      RiskLevel
}

// FieldType selects the type-specific validator applied to a field.
type FieldType string

const (
	FieldTypeGeneral  FieldType = "general"
	FieldTypeEmail    FieldType = "email"
	FieldTypeURL      FieldType = "url"
	FieldTypeFilename FieldType = "filename"
	FieldTypeSQL      FieldType = "sql"
	FieldTypePassword FieldType = "password"
	FieldTypeCustom   FieldType = "custom"
)

// CustomValidator returns error messages for a value; an empty slice means valid.
type CustomValidator func(value string) []string

// FieldRule configures validation for a single field.
type FieldRule struct {
	Required     bool
	MinLength    int
	MaxLength    int
	Pattern      *regexp.Regexp
	Type         FieldType
	Custom       CustomValidator
	SkipSanitize bool
}

// FieldContext carries caller metadata recorded with audit events.
type FieldContext struct {
	UserID    string
	FormName  string
	IPAddress string
}

// FormValidationResult aggregates per-field results for a form submission.
type FormValidationResult struct {
	IsValid         bool
	Fields          map[string]ValidationResult
	SanitizedValues map[string]string
	RiskLevel       RiskLevel
}

// FileInput describes an uploaded file. Head holds the leading bytes used for content sniffing.
type FileInput struct {
	Name        string
	Size        int64
	ContentType string
	Head        []byte
}

// FileRule configures file upload validation.
type FileRule struct {
	AllowedTypes []string
	MaxSize      int64
}
