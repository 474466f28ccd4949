package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/transport/http/middleware"
	"github.com/arklim/session-security/internal/usecase"
)

// SessionSecurity is the session use-case surface behind the action-dispatch endpoint.
type SessionSecurity interface {
	Validate(ctx context.Context, req usecase.SessionRequest) (domain.SessionValidation, error)
	Rotate(ctx context.Context, req usecase.SessionRequest) (domain.SessionRotation, error)
	Invalidate(ctx context.Context, sessionID string) error
	CheckConcurrent(ctx context.Context, sessionID string) (domain.ConcurrencyCheck, error)
}

var sessionErrorCases = []ErrorCase{
	{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Code: CodeSessionNotFound, Message: "Session not found"},
	{Err: usecase.ErrConcurrentSessionOperation, Status: http.StatusConflict, Code: CodeConcurrentOperation, Message: "Another session operation is in progress for this user"},
	{Err: usecase.ErrInvalidAction, Status: http.StatusBadRequest, Code: CodeInvalidAction, Message: "Unknown action"},
}

// SessionSecurityHandler dispatches session security actions from a single endpoint.
type SessionSecurityHandler struct {
	sessions SessionSecurity
}

func NewSessionSecurityHandler(sessions SessionSecurity) *SessionSecurityHandler {
	return &SessionSecurityHandler{sessions: sessions}
}

// Handle serves POST /functions/v1/session-security.
func (h *SessionSecurityHandler) Handle(c *gin.Context) {
	var req SessionSecurityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, sessionBindMessage(err))
		return
	}

	ctx := c.Request.Context()
	action := strings.TrimSpace(req.Action)
	if action == "" {
		action = usecase.ActionValidate
	}
	c.Set(middleware.ActionKey, action)

	switch action {
	case usecase.ActionValidate:
		result, err := h.sessions.Validate(ctx, req.toUsecase())
		if err != nil {
			RespondWithMappedError(c, err, sessionErrorCases)
			return
		}
		c.JSON(http.StatusOK, ValidateSessionResponse{
			Valid:         result.Valid,
			SecurityScore: result.SecurityScore,
			Flags:         nonNil(result.Flags),
			Reason:        result.Reason,
		})

	case usecase.ActionRotate:
		result, err := h.sessions.Rotate(ctx, req.toUsecase())
		if err != nil {
			RespondWithMappedError(c, err, sessionErrorCases)
			return
		}
		c.JSON(http.StatusOK, RotateSessionResponse{
			Success:      result.Success,
			NewSessionID: result.NewSessionID,
			ExpiresAt:    result.ExpiresAt.UTC(),
		})

	case usecase.ActionInvalidate:
		if err := h.sessions.Invalidate(ctx, req.SessionID); err != nil {
			RespondWithMappedError(c, err, sessionErrorCases)
			return
		}
		c.JSON(http.StatusOK, InvalidateSessionResponse{Success: true})

	case usecase.ActionCheckConcurrent:
		result, err := h.sessions.CheckConcurrent(ctx, req.SessionID)
		if err != nil {
			RespondWithMappedError(c, err, sessionErrorCases)
			return
		}
		c.JSON(http.StatusOK, CheckConcurrentResponse{
			ActiveSessions: result.ActiveSessions,
			MaxAllowed:     result.MaxAllowed,
			LimitEnforced:  result.LimitEnforced,
		})

	default:
		RespondWithMappedError(c, usecase.ErrInvalidAction, sessionErrorCases)
	}
}

// sessionBindMessage separates unreadable bodies from a missing sessionId.
func sessionBindMessage(err error) string {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "Request body must be valid JSON"
	case errors.As(err, &typeErr):
		return typeErr.Field + " has an invalid type"
	default:
		return "sessionId is required"
	}
}
