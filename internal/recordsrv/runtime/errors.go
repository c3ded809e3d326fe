package runtime

import (
	"net/http"

	"github.com/recordum/recordum/internal/common/apperrors"
)

var (
	ErrRuntime        apperrors.Error = apperrors.New("runtime error").SetStatusCode(http.StatusInternalServerError)
	ErrInvalidPayload apperrors.Error = ErrRuntime.New("invalid record payload").SetStatusCode(http.StatusBadRequest)
	ErrRecordNotFound apperrors.Error = ErrRuntime.New("record not found").SetStatusCode(http.StatusNotFound)
	// ErrUniqueConflict carries the name of the unique field whose value is
	// already taken.
	ErrUniqueConflict apperrors.Error = ErrRuntime.New("unique value conflict").SetStatusCode(http.StatusConflict)
	// ErrRelationIntegrity rejects deleting a record other records still point
	// at through published relation fields.
	ErrRelationIntegrity apperrors.Error = ErrRuntime.New("record is referenced by other records").SetStatusCode(http.StatusConflict)
	// ErrWriteRejected is returned when a business rule rejects the write.
	ErrWriteRejected apperrors.Error = ErrRuntime.New("write rejected by business rule").SetStatusCode(http.StatusBadRequest)
)
