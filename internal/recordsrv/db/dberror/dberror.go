// Package dberror declares the error hierarchy for the database layer.
package dberror

import (
	"net/http"

	"github.com/recordum/recordum/internal/common/apperrors"
)

var (
	ErrDatabase        apperrors.Error = apperrors.New("db error").SetStatusCode(http.StatusInternalServerError)
	ErrAlreadyExists   apperrors.Error = ErrDatabase.New("already exists").SetStatusCode(http.StatusConflict)
	ErrNotFound        apperrors.Error = ErrDatabase.New("not found").SetStatusCode(http.StatusNotFound)
	ErrInvalidInput    apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest)
	ErrMissingTenantID apperrors.Error = ErrInvalidInput.New("missing tenant ID").SetStatusCode(http.StatusBadRequest)
	ErrUniqueViolation apperrors.Error = ErrAlreadyExists.New("unique value already exists").SetStatusCode(http.StatusConflict)
	ErrLeaseMismatch   apperrors.Error = ErrDatabase.New("lease token mismatch").SetStatusCode(http.StatusConflict)
)
