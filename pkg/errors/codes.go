package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeFeatureDisabled    ErrorCode = "COMMON_015"
)

// Aliases used across layers.
const (
	CodeUnknown      = ErrorCode("")
	CodeOK           = ErrorCode("OK")
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeValidation   = ErrCodeValidation
)

// Reference Data Error Codes
const (
	ErrCodeReferenceLoadFailed   ErrorCode = "REF_001"
	ErrCodeReferenceEmpty        ErrorCode = "REF_002"
	ErrCodeReferenceMalformed    ErrorCode = "REF_003"
	ErrCodeReferenceSourceAbsent ErrorCode = "REF_004"
)

// Engine Error Codes
const (
	ErrCodeBridgeNotFound         ErrorCode = "ENG_001"
	ErrCodeClassificationNotFound ErrorCode = "ENG_002"
	ErrCodeInvalidWeightTable     ErrorCode = "ENG_003"
	ErrCodeInvalidTierTable       ErrorCode = "ENG_004"
	ErrCodeInvalidPrecedence      ErrorCode = "ENG_005"
	ErrCodeInvalidTrialPhase      ErrorCode = "ENG_006"
	ErrCodeSubstanceNotFound      ErrorCode = "ENG_007"
	ErrCodeRunNotFound            ErrorCode = "ENG_008"
)

// Ingest Error Codes
const (
	ErrCodeFactInvalid     ErrorCode = "ING_001"
	ErrCodeFactDecodeError ErrorCode = "ING_002"
	ErrCodeUnknownSource   ErrorCode = "ING_003"
)

// Infrastructure aliases.
const (
	CodeDatabaseError     = ErrCodeDatabaseError
	CodeCacheError        = ErrCodeCacheError
	CodeMessageQueueError = ErrCodeExternalService
	CodeStorageError      = ErrCodeExternalService
	CodeSearchError       = ErrCodeExternalService
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeFeatureDisabled:    http.StatusForbidden,

	ErrCodeReferenceLoadFailed:   http.StatusServiceUnavailable,
	ErrCodeReferenceEmpty:        http.StatusServiceUnavailable,
	ErrCodeReferenceMalformed:    http.StatusServiceUnavailable,
	ErrCodeReferenceSourceAbsent: http.StatusServiceUnavailable,

	ErrCodeBridgeNotFound:         http.StatusNotFound,
	ErrCodeClassificationNotFound: http.StatusNotFound,
	ErrCodeInvalidWeightTable:     http.StatusBadRequest,
	ErrCodeInvalidTierTable:       http.StatusBadRequest,
	ErrCodeInvalidPrecedence:      http.StatusBadRequest,
	ErrCodeInvalidTrialPhase:      http.StatusBadRequest,
	ErrCodeSubstanceNotFound:      http.StatusNotFound,
	ErrCodeRunNotFound:            http.StatusNotFound,

	ErrCodeFactInvalid:     http.StatusUnprocessableEntity,
	ErrCodeFactDecodeError: http.StatusBadRequest,
	ErrCodeUnknownSource:   http.StatusBadRequest,
}

// HTTPStatus returns the HTTP status for the code, defaulting to 500.
func (c ErrorCode) HTTPStatus() int {
	if s, ok := ErrorCodeHTTPStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Module returns the module prefix of the code ("REF", "ENG", ...).
func (c ErrorCode) Module() string {
	s := string(c)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return ""
}
