package query

import (
	"net/http"

	"github.com/recordum/recordum/internal/common/apperrors"
)

var (
	ErrInvalidQuery apperrors.Error = apperrors.New("invalid query").SetStatusCode(http.StatusBadRequest)

	ErrUnknownScopeAlias  apperrors.Error = ErrInvalidQuery.New("unknown scope alias")
	ErrUnknownField       apperrors.Error = ErrInvalidQuery.New("unknown field in scope")
	ErrInvalidOperator    apperrors.Error = ErrInvalidQuery.New("invalid operator")
	ErrInvalidOperand     apperrors.Error = ErrInvalidQuery.New("invalid operand for operator")
	ErrInvalidGroupNode   apperrors.Error = ErrInvalidQuery.New("group node must hold exactly one of filter or group")
	ErrDuplicateAlias     apperrors.Error = ErrInvalidQuery.New("duplicate link alias")
	ErrReservedAlias      apperrors.Error = ErrInvalidQuery.New("link alias collides with reserved root alias")
	ErrInvalidLinkParent  apperrors.Error = ErrInvalidQuery.New("link parent must be the root or an earlier alias")
	ErrNotARelationField  apperrors.Error = ErrInvalidQuery.New("link relation field is not of Relation type")
	ErrLinkTargetMismatch apperrors.Error = ErrInvalidQuery.New("link target does not match the relation's declared target")
	ErrInvalidPaging      apperrors.Error = ErrInvalidQuery.New("invalid limit or offset")
)
