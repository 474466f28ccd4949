package usecase

import (
	"context"
	"sort"

	"github.com/arklim/session-security/internal/core/domain"
)

// ValidateForm validates every field named in rules and reports the worst risk across them.
// A single summary audit row is written for high or critical forms.
func (s *ValidationService) ValidateForm(ctx context.Context, values map[string]string, rules map[string]domain.FieldRule, fctx *domain.FieldContext) domain.FormValidationResult {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	result := domain.FormValidationResult{
		IsValid:         true,
		Fields:          make(map[string]domain.ValidationResult, len(names)),
		SanitizedValues: make(map[string]string, len(names)),
		RiskLevel:       domain.RiskLow,
	}
	histogram := map[string]int{
		string(domain.RiskLow):      0,
		string(domain.RiskMedium):   0,
		string(domain.RiskHigh):     0,
		string(domain.RiskCritical): 0,
	}
	invalid := make([]string, 0)

	for _, name := range names {
		field := s.checkField(name, values[name], rules[name])
		result.Fields[name] = field
		result.SanitizedValues[name] = field.SanitizedValue
		result.RiskLevel = domain.MaxRisk(result.RiskLevel, field.RiskLevel)
		histogram[string(field.RiskLevel)]++
		if !field.IsValid {
			result.IsValid = false
			invalid = append(invalid, name)
		}
	}

	if result.RiskLevel.Escalated() && s.audit != nil {
		data := map[string]any{
			"field_count":    len(names),
			"invalid_fields": invalid,
			"risk_level":     string(result.RiskLevel),
			"risk_histogram": histogram,
		}
		userID := applyFieldContext(data, fctx)
		s.writeAudit(ctx, domain.AuditEntry{
			EventType: domain.EventFormValidationFailure,
			Category:  domain.CategoryInputValidation,
			Severity:  severityForRisk(result.RiskLevel),
			UserID:    userID,
			Data:      data,
			RiskScore: riskScoreFor(result.RiskLevel),
			CreatedAt: s.now(),
		})
	}

	return result
}
