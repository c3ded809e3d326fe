package metadata

import (
	"net/http"

	"github.com/recordum/recordum/internal/common/apperrors"
)

var (
	ErrMetadata           apperrors.Error = apperrors.New("metadata error").SetStatusCode(http.StatusInternalServerError)
	ErrInvalidDefinition  apperrors.Error = ErrMetadata.New("invalid metadata definition").SetStatusCode(http.StatusBadRequest)
	ErrEntityNotFound     apperrors.Error = ErrMetadata.New("entity not found").SetStatusCode(http.StatusNotFound)
	ErrFieldNotFound      apperrors.Error = ErrMetadata.New("field not found").SetStatusCode(http.StatusNotFound)
	ErrDefinitionNotFound apperrors.Error = ErrMetadata.New("definition not found").SetStatusCode(http.StatusNotFound)
	ErrAlreadyExists      apperrors.Error = ErrMetadata.New("already exists").SetStatusCode(http.StatusConflict)
	// ErrFieldFrozen rejects changes to attributes frozen by publication. Once
	// a field appears in any published schema version, its type and relation
	// target are immutable and the field cannot be deleted.
	ErrFieldFrozen apperrors.Error = ErrMetadata.New("field is referenced by a published schema version").SetStatusCode(http.StatusConflict)
	// ErrEntityInUse rejects deleting an entity that still holds runtime
	// records.
	ErrEntityInUse apperrors.Error = ErrMetadata.New("entity still has runtime records").SetStatusCode(http.StatusConflict)
	// ErrDefinitionInUse rejects deleting a definition document other metadata
	// still references.
	ErrDefinitionInUse apperrors.Error = ErrMetadata.New("definition is still referenced").SetStatusCode(http.StatusConflict)
)
