package workflow

import (
	"net/http"

	"github.com/recordum/recordum/internal/common/apperrors"
)

var (
	ErrWorkflow         apperrors.Error = apperrors.New("workflow error").SetStatusCode(http.StatusInternalServerError)
	ErrInvalidWorkflow  apperrors.Error = ErrWorkflow.New("invalid workflow definition").SetStatusCode(http.StatusBadRequest)
	ErrWorkflowNotFound apperrors.Error = ErrWorkflow.New("workflow not found").SetStatusCode(http.StatusNotFound)
	ErrRunNotFound      apperrors.Error = ErrWorkflow.New("workflow run not found").SetStatusCode(http.StatusNotFound)
	// ErrInvalidPlan surfaces a step graph that cannot be linearized for the
	// given trigger payload.
	ErrInvalidPlan apperrors.Error = ErrWorkflow.New("step graph cannot be planned").SetStatusCode(http.StatusBadRequest)
)
