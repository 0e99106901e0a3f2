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

// Common error codes
const (
	ErrCodeUnknown            ErrorCode = "COMMON_000"
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeDependentService   ErrorCode = "COMMON_015"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"

	CodeOK ErrorCode = "OK"
)

// Molecule module error codes
const (
	ErrCodeMoleculeNotFound       ErrorCode = "MOL_001"
	ErrCodeMoleculeAlreadyExists  ErrorCode = "MOL_002"
	ErrCodeUnsupportedFormat      ErrorCode = "MOL_003"
	ErrCodeAtomLimitExceeded      ErrorCode = "MOL_004"
	ErrCodeInChIDerivationFailed  ErrorCode = "MOL_005"
	ErrCodeChemicalJSONInvalid    ErrorCode = "MOL_006"
	ErrCodeConversionFailed       ErrorCode = "MOL_007"
	ErrCodeFingerprintFailed      ErrorCode = "MOL_008"
	ErrCodeSimilaritySearchFailed ErrorCode = "MOL_009"
)

// Calculation module error codes
const (
	ErrCodeCalculationNotFound     ErrorCode = "CALC_001"
	ErrCodeCalculationPending      ErrorCode = "CALC_002"
	ErrCodeIngestFailed            ErrorCode = "CALC_003"
	ErrCodeGeometryNotFound        ErrorCode = "CALC_004"
	ErrCodeFileNotFound            ErrorCode = "CALC_005"
	ErrCodeVibrationalModeNotFound ErrorCode = "VIB_001"
	ErrCodeVibrationsAbsent        ErrorCode = "VIB_002"
)

// Orbital cube module error codes
const (
	ErrCodeElectronCountUnavailable ErrorCode = "CUBE_001"
	ErrCodeCubeComputationFailed    ErrorCode = "CUBE_002"
	ErrCodeCubeDispatchFailed       ErrorCode = "CUBE_003"
)

// errorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var errorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusInternalServerError,
	ErrCodeDependentService:   http.StatusInternalServerError,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeMoleculeNotFound:       http.StatusNotFound,
	ErrCodeMoleculeAlreadyExists:  http.StatusConflict,
	ErrCodeUnsupportedFormat:      http.StatusBadRequest,
	ErrCodeAtomLimitExceeded:      http.StatusBadRequest,
	ErrCodeInChIDerivationFailed:  http.StatusBadRequest,
	ErrCodeChemicalJSONInvalid:    http.StatusBadRequest,
	ErrCodeConversionFailed:       http.StatusInternalServerError,
	ErrCodeFingerprintFailed:      http.StatusInternalServerError,
	ErrCodeSimilaritySearchFailed: http.StatusInternalServerError,

	ErrCodeCalculationNotFound:     http.StatusNotFound,
	ErrCodeCalculationPending:      http.StatusConflict,
	ErrCodeIngestFailed:            http.StatusInternalServerError,
	ErrCodeGeometryNotFound:        http.StatusNotFound,
	ErrCodeFileNotFound:            http.StatusNotFound,
	ErrCodeVibrationalModeNotFound: http.StatusNotFound,
	ErrCodeVibrationsAbsent:        http.StatusNotFound,

	ErrCodeElectronCountUnavailable: http.StatusBadRequest,
	ErrCodeCubeComputationFailed:    http.StatusInternalServerError,
	ErrCodeCubeDispatchFailed:       http.StatusInternalServerError,
}

// errorCodeMessage maps ErrorCodes to default messages.
var errorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeDependentService:   "dependent service unavailable",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeMoleculeNotFound:       "molecule not found",
	ErrCodeMoleculeAlreadyExists:  "molecule already exists",
	ErrCodeUnsupportedFormat:      "unsupported molecule format",
	ErrCodeAtomLimitExceeded:      "molecule exceeds the atom-count ceiling",
	ErrCodeInChIDerivationFailed:  "unable to derive InChI",
	ErrCodeChemicalJSONInvalid:    "invalid chemical JSON document",
	ErrCodeConversionFailed:       "molecule format conversion failed",
	ErrCodeFingerprintFailed:      "failed to generate fingerprint",
	ErrCodeSimilaritySearchFailed: "similarity search failed",

	ErrCodeCalculationNotFound:     "calculation not found",
	ErrCodeCalculationPending:      "calculation is still pending",
	ErrCodeIngestFailed:            "failed to ingest calculation result",
	ErrCodeGeometryNotFound:        "geometry not found",
	ErrCodeFileNotFound:            "file not found",
	ErrCodeVibrationalModeNotFound: "no such vibrational mode",
	ErrCodeVibrationsAbsent:        "calculation has no vibrational data",

	ErrCodeElectronCountUnavailable: "unable to access electronCount",
	ErrCodeCubeComputationFailed:    "orbital cube computation failed",
	ErrCodeCubeDispatchFailed:       "failed to dispatch cube computation",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := errorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := errorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
