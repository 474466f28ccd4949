package usecase

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
	"github.com/arklim/session-security/internal/infra/logger"
	"github.com/arklim/session-security/internal/infra/security"
)

const (
	maxEmailLength    = 254
	maxFilenameLength = 255
	defaultMaxFile    = 5 * 1024 * 1024
	maxSanitizePasses = 4
)

var (
	scriptPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<\s*script`),
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)vbscript\s*:`),
		regexp.MustCompile(`(?i)\bon(load|error|click|dblclick|mouse[a-z]*|key[a-z]*|focus|blur|change|submit|input|abort|begin|end|toggle)\s*=`),
	}
	dangerousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<\s*(iframe|object|embed|applet|meta|link|style)\b`),
		regexp.MustCompile(`(?i)\beval\s*\(`),
		regexp.MustCompile(`(?i)expression\s*\(`),
		regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	}
	sqlInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bunion\b\s+(all\s+)?\bselect\b`),
		regexp.MustCompile(`(?i)\b(drop|truncate|alter)\s+(table|database)\b`),
		regexp.MustCompile(`(?i)\binsert\s+into\b`),
		regexp.MustCompile(`(?i)\bdelete\s+from\b`),
		regexp.MustCompile(`(?i)\bupdate\s+\w+\s+set\s+\w+\s*=`),
		regexp.MustCompile(`(?i)\b(exec|execute)\s*(\(|\s+xp_)`),
		regexp.MustCompile(`(?i)'\s*(or|and)\s+'?\w+'?\s*=\s*'?\w+`),
		regexp.MustCompile(`--\s*$|/\*|\*/`),
		regexp.MustCompile(`;\s*(select|drop|delete|insert|update|shutdown)\b`),
		regexp.MustCompile(`(?i)\b(sleep|benchmark)\s*\(|\bwaitfor\s+delay\b`),
	}
	sanitizeFragments = []*regexp.Regexp{
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)vbscript\s*:`),
		regexp.MustCompile(`(?i)data\s*:\s*text/html`),
		regexp.MustCompile(`(?i)\bon(load|error|click|dblclick|mouse[a-z]*|key[a-z]*|focus|blur|change|submit|input|abort|begin|end|toggle)\s*=`),
	}
	reservedFilenames = map[string]struct{}{
		"con": {}, "prn": {}, "aux": {}, "nul": {},
		"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {}, "com6": {}, "com7": {}, "com8": {}, "com9": {},
		"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {}, "lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
	}
)

// ValidationConfig holds the file upload defaults.
type ValidationConfig struct {
	MaxFileSize      int64
	AllowedFileTypes []string
}

// ValidationService sanitizes and risk-scores field, form and file input.
type ValidationService struct {
	audit    port.AuditRepository
	cfg      ValidationConfig
	policy   *bluemonday.Policy
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewValidationService constructs a ValidationService. audit may be nil to disable audit writes.
func NewValidationService(audit port.AuditRepository, cfg ValidationConfig, log *zap.Logger) *ValidationService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFile
	}
	return &ValidationService{
		audit:    audit,
		cfg:      cfg,
		policy:   bluemonday.StrictPolicy(),
		validate: validator.New(),
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ValidateField runs required, length, pattern and type checks on value and returns the sanitized form.
// High and critical results are written to the audit log.
func (s *ValidationService) ValidateField(ctx context.Context, fieldName, value string, rule domain.FieldRule, fctx *domain.FieldContext) domain.ValidationResult {
	result := s.checkField(fieldName, value, rule)
	if result.RiskLevel.Escalated() {
		s.auditField(ctx, fieldName, value, rule, result, fctx)
	}
	return result
}

func (s *ValidationService) checkField(fieldName, value string, rule domain.FieldRule) domain.ValidationResult {
	var errs, warnings []string

	if strings.TrimSpace(value) == "" {
		if rule.Required {
			errs = append(errs, fmt.Sprintf("%s is required", fieldName))
		}
		return finishResult(fieldName, errs, warnings, "")
	}

	length := utf8.RuneCountInString(value)
	if rule.MinLength > 0 && length < rule.MinLength {
		errs = append(errs, fmt.Sprintf("%s must be at least %d characters", fieldName, rule.MinLength))
	}
	if rule.MaxLength > 0 && length > rule.MaxLength {
		errs = append(errs, fmt.Sprintf("%s must be at most %d characters", fieldName, rule.MaxLength))
	}

	if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
		errs = append(errs, fmt.Sprintf("%s has an invalid format", fieldName))
	}

	fieldType := rule.Type
	if fieldType == "" {
		fieldType = domain.FieldTypeGeneral
	}

	switch fieldType {
	case domain.FieldTypeEmail:
		errs = append(errs, s.checkEmail(fieldName, value)...)
	case domain.FieldTypeURL:
		errs = append(errs, s.checkURL(fieldName, value)...)
	case domain.FieldTypeFilename:
		errs = append(errs, checkFilename(fieldName, value)...)
	case domain.FieldTypeSQL:
		errs = append(errs, checkSQL(fieldName, value)...)
	case domain.FieldTypePassword:
		warnings = append(warnings, security.PasswordWarnings(value)...)
	case domain.FieldTypeGeneral:
		errs = append(errs, checkGeneral(fieldName, value)...)
	}

	if rule.Custom != nil {
		errs = append(errs, rule.Custom(value)...)
	}

	sanitized := value
	if !rule.SkipSanitize && fieldType != domain.FieldTypePassword {
		sanitized = s.sanitize(value, rule.MaxLength)
	}

	return finishResult(fieldName, errs, warnings, sanitized)
}

func (s *ValidationService) checkEmail(fieldName, value string) []string {
	if len(value) > maxEmailLength {
		return []string{fmt.Sprintf("%s must be at most %d characters", fieldName, maxEmailLength)}
	}
	if err := s.validate.Var(value, "required,email"); err != nil {
		return []string{fmt.Sprintf("%s must be a valid email address", fieldName)}
	}
	return nil
}

func (s *ValidationService) checkURL(fieldName, value string) []string {
	if matchesAny(scriptPatterns, value) || matchesAny(dangerousPatterns, value) {
		return []string{fmt.Sprintf("%s contains a dangerous pattern", fieldName)}
	}
	if err := s.validate.Var(value, "required,url"); err != nil {
		return []string{fmt.Sprintf("%s must be a valid URL", fieldName)}
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return []string{fmt.Sprintf("%s must be a valid URL", fieldName)}
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return nil
	default:
		return []string{fmt.Sprintf("%s must use the http or https protocol", fieldName)}
	}
}

func checkFilename(fieldName, value string) []string {
	var errs []string

	if utf8.RuneCountInString(value) > maxFilenameLength {
		errs = append(errs, fmt.Sprintf("%s must be at most %d characters", fieldName, maxFilenameLength))
	}
	if strings.Contains(value, "..") || strings.ContainsAny(value, `/\`) {
		errs = append(errs, fmt.Sprintf("%s contains a dangerous pattern (path traversal)", fieldName))
	}
	if strings.ContainsAny(value, `<>:"|?*`) || strings.IndexFunc(value, unicode.IsControl) >= 0 {
		errs = append(errs, fmt.Sprintf("%s contains invalid characters", fieldName))
	}

	base := strings.ToLower(value)
	if idx := strings.IndexByte(base, '.'); idx >= 0 {
		base = base[:idx]
	}
	if _, reserved := reservedFilenames[base]; reserved {
		errs = append(errs, fmt.Sprintf("%s uses a reserved name", fieldName))
	}
	if strings.HasSuffix(value, ".") || strings.HasSuffix(value, " ") {
		errs = append(errs, fmt.Sprintf("%s must not end with a dot or space", fieldName))
	}

	return errs
}

func checkSQL(fieldName, value string) []string {
	if matchesAny(sqlInjectionPatterns, value) {
		return []string{fmt.Sprintf("%s contains potential SQL injection", fieldName)}
	}
	return nil
}

func checkGeneral(fieldName, value string) []string {
	var errs []string
	if matchesAny(scriptPatterns, value) {
		errs = append(errs, fmt.Sprintf("%s contains script content", fieldName))
	}
	if matchesAny(dangerousPatterns, value) {
		errs = append(errs, fmt.Sprintf("%s contains a dangerous pattern", fieldName))
	}
	errs = append(errs, checkSQL(fieldName, value)...)
	return errs
}

// sanitize strips markup and inline script fragments, then caps the rune length.
// The result is plain text: entities the policy emits are decoded again.
func (s *ValidationService) sanitize(value string, maxLength int) string {
	cleaned := s.plainText(value)
	for _, fragment := range sanitizeFragments {
		cleaned = fragment.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	return truncateRunes(cleaned, maxLength)
}

// plainText sanitizes and decodes until the value is stable. Input still carrying
// encoded markup after maxSanitizePasses is returned in its escaped form.
func (s *ValidationService) plainText(value string) string {
	cleaned := value
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(cleaned))
		if next == cleaned {
			return cleaned
		}
		cleaned = next
	}
	return s.policy.Sanitize(cleaned)
}

func (s *ValidationService) auditField(ctx context.Context, fieldName, value string, rule domain.FieldRule, result domain.ValidationResult, fctx *domain.FieldContext) {
	if s.audit == nil {
		return
	}

	data := map[string]any{
		"field_name":             fieldName,
		"field_type":             string(ruleType(rule)),
		"risk_level":             string(result.RiskLevel),
		"error_count":            len(result.Errors),
		"errors":                 result.Errors,
		"value_length":           utf8.RuneCountInString(value),
		"contains_script":        matchesAny(scriptPatterns, value),
		"contains_sql_injection": matchesAny(sqlInjectionPatterns, value),
	}
	userID := applyFieldContext(data, fctx)

	s.writeAudit(ctx, domain.AuditEntry{
		EventType: domain.EventFieldValidationFailure,
		Category:  domain.CategoryInputValidation,
		Severity:  severityForRisk(result.RiskLevel),
		UserID:    userID,
		Data:      data,
		RiskScore: riskScoreFor(result.RiskLevel),
		CreatedAt: s.now(),
	})
}

func (s *ValidationService) writeAudit(ctx context.Context, entry domain.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Insert(ctx, entry); err != nil {
		s.logger.Warn("failed to write validation audit entry",
			zap.String("event_type", entry.EventType),
			zap.Error(err),
		)
	}
}

func finishResult(fieldName string, errs, warnings []string, sanitized string) domain.ValidationResult {
	if errs == nil {
		errs = []string{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	return domain.ValidationResult{
		IsValid:        len(errs) == 0,
		Errors:         errs,
		Warnings:       warnings,
		SanitizedValue: sanitized,
		RiskLevel:      riskForErrors(fieldName, errs),
	}
}

// riskForErrors grades errors. The leading field name is skipped so a field called "description" is not read as script.
func riskForErrors(fieldName string, errs []string) domain.RiskLevel {
	prefix := strings.ToLower(fieldName) + " "
	for _, msg := range errs {
		msg = strings.ToLower(msg)
		if fieldName != "" {
			msg = strings.TrimPrefix(msg, prefix)
		}
		if strings.Contains(msg, "sql injection") || strings.Contains(msg, "script") || strings.Contains(msg, "dangerous pattern") {
			return domain.RiskCritical
		}
	}
	switch {
	case len(errs) > 2:
		return domain.RiskHigh
	case len(errs) > 0:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func severityForRisk(level domain.RiskLevel) domain.Severity {
	switch level {
	case domain.RiskCritical:
		return domain.SeverityCritical
	case domain.RiskHigh:
		return domain.SeverityHigh
	case domain.RiskMedium:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func riskScoreFor(level domain.RiskLevel) *int {
	score := 25 * (level.Rank() + 1)
	return &score
}

func applyFieldContext(data map[string]any, fctx *domain.FieldContext) string {
	if fctx == nil {
		return ""
	}
	if fctx.FormName != "" {
		data["form_name"] = fctx.FormName
	}
	if fctx.IPAddress != "" {
		data["ip_address"] = logger.MaskIP(fctx.IPAddress)
	}
	return fctx.UserID
}

func ruleType(rule domain.FieldRule) domain.FieldType {
	if rule.Type == "" {
		return domain.FieldTypeGeneral
	}
	return rule.Type
}

func matchesAny(patterns []*regexp.Regexp, value string) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

func truncateRunes(value string, maxLength int) string {
	if maxLength <= 0 || utf8.RuneCountInString(value) <= maxLength {
		return value
	}
	return string([]rune(value)[:maxLength])
}
