package usecase

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/arklim/session-security/internal/core/domain"
)

var dangerousExtensions = map[string]struct{}{
	".exe": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".scr": {}, ".pif": {}, ".cpl": {},
	".msi": {}, ".msp": {}, ".dll": {}, ".sys": {}, ".drv": {},
	".vbs": {}, ".vbe": {}, ".js": {}, ".jse": {}, ".wsf": {}, ".wsh": {}, ".hta": {},
	".ps1": {}, ".psm1": {}, ".sh": {}, ".bash": {}, ".zsh": {}, ".csh": {},
	".jar": {}, ".app": {}, ".deb": {}, ".rpm": {}, ".dmg": {}, ".pkg": {}, ".apk": {},
	".reg": {}, ".lnk": {}, ".scf": {}, ".inf": {}, ".gadget": {},
	".php": {}, ".asp": {}, ".aspx": {}, ".jsp": {}, ".cgi": {}, ".pl": {},
}

// ValidateFile checks size, declared type, extension and name of an upload.
// A dangerous final extension always yields a critical, invalid result.
func (s *ValidationService) ValidateFile(ctx context.Context, file domain.FileInput, rule domain.FileRule) domain.ValidationResult {
	errs := make([]string, 0)
	warnings := make([]string, 0)

	maxSize := rule.MaxSize
	if maxSize <= 0 {
		maxSize = s.cfg.MaxFileSize
	}
	if file.Size > maxSize {
		errs = append(errs, fmt.Sprintf("file size %d exceeds the maximum of %d bytes", file.Size, maxSize))
	}
	if file.Size == 0 {
		errs = append(errs, "file is empty")
	}

	allowed := rule.AllowedTypes
	if len(allowed) == 0 {
		allowed = s.cfg.AllowedFileTypes
	}
	declared := normalizeMediaType(file.ContentType)
	if len(allowed) > 0 && !containsMediaType(allowed, declared) {
		errs = append(errs, fmt.Sprintf("file type %q is not allowed", declared))
	}

	ext := strings.ToLower(filepath.Ext(file.Name))
	_, dangerous := dangerousExtensions[ext]
	if dangerous {
		errs = append(errs, fmt.Sprintf("file extension %s is a dangerous pattern", ext))
	}

	if strings.TrimSpace(file.Name) == "" {
		errs = append(errs, "filename is required")
	} else {
		errs = append(errs, checkFilename("filename", file.Name)...)
	}

	if parts := strings.Split(strings.TrimPrefix(file.Name, "."), "."); len(parts) > 2 {
		warnings = append(warnings, "file name has multiple extensions")
	}

	if len(file.Head) > 0 && declared != "" {
		if detected := mimetype.Detect(file.Head); !detectedAs(detected, declared) {
			warnings = append(warnings, fmt.Sprintf("declared type %s does not match detected content %s", declared, detected.String()))
		}
	}

	result := domain.ValidationResult{
		IsValid:        len(errs) == 0,
		Errors:         errs,
		Warnings:       warnings,
		SanitizedValue: sanitizeFilename(file.Name),
		RiskLevel:      riskForErrors("", errs),
	}
	if dangerous {
		result.IsValid = false
		result.RiskLevel = domain.RiskCritical
	}

	if result.RiskLevel.Escalated() && s.audit != nil {
		s.writeAudit(ctx, domain.AuditEntry{
			EventType: domain.EventFileValidationFailure,
			Category:  domain.CategoryInputValidation,
			Severity:  severityForRisk(result.RiskLevel),
			Data: map[string]any{
				"file_name":           result.SanitizedValue,
				"file_size":           file.Size,
				"content_type":        declared,
				"extension":           ext,
				"dangerous_extension": dangerous,
				"errors":              errs,
				"risk_level":          string(result.RiskLevel),
			},
			RiskScore: riskScoreFor(result.RiskLevel),
			CreatedAt: s.now(),
		})
	}

	return result
}

func normalizeMediaType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return strings.ToLower(mediaType)
}

func containsMediaType(allowed []string, mediaType string) bool {
	for _, candidate := range allowed {
		if normalizeMediaType(candidate) == mediaType {
			return true
		}
	}
	return false
}

func detectedAs(detected *mimetype.MIME, declared string) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(declared) {
			return true
		}
	}
	return false
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`<>:"|?*`, r) {
			return '_'
		}
		return r
	}, name)
}
