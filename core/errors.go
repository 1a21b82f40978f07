package core

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied     = errors.New("permission denied")
	ErrUnsupportedOperation = errors.New("operation not supported")
	ErrInitializationFailed = errors.New("initialization failed")
	ErrTelephonyUnavailable = errors.New("telephony source unavailable")
)

// 对外的错误码
const (
	CodePermissionDenied        = "E_PERMISSION_DENIED"
	CodePermissionRequestFailed = "E_PERMISSION_REQUEST_FAILED"
	CodeInitializationFailed    = "E_INITIALIZATION_FAILED"
	CodeStartMonitoringFailed   = "E_START_MONITORING_FAILED"
	CodeStopMonitoringFailed    = "E_STOP_MONITORING_FAILED"
	CodeDeviceUnavailable       = "E_DEVICE_UNAVAILABLE"
	CodeSpeakerError            = "E_SPEAKER_ERROR"
	CodeOperationNotSupported   = "E_OPERATION_NOT_SUPPORTED"
)

// Error 是 MonitorController 返回的结构化错误
type Error struct {
	Code    string
	Message string
	Err     error
}

func newError(code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode 取出错误码，不是 *Error 时返回空串
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
