package common

import (
	"fmt"
	"strings"

	"pipeview/internal/pipe"
)

// Error represents the library error object.
type Error struct {
	Code    pipe.Err
	Sev     pipe.ErrSeverity
	Idx     pipe.LineIndex
	Message string
	Cause   error
}

func NewError(sev pipe.ErrSeverity, code pipe.Err) *Error {
	return &Error{
		Code: code,
		Sev:  sev,
		Idx:  pipe.BadLineIndex,
	}
}

func NewErrorMsg(sev pipe.ErrSeverity, code pipe.Err, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Idx:     pipe.BadLineIndex,
		Message: msg,
	}
}

func NewErrorWithIdxMsg(sev pipe.ErrSeverity, code pipe.Err, idx pipe.LineIndex, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Idx:     idx,
		Message: msg,
	}
}

// WrapError builds an error-severity Error around an underlying cause.
func WrapError(code pipe.Err, idx pipe.LineIndex, cause error) *Error {
	e := &Error{
		Code:  code,
		Sev:   pipe.ErrSevError,
		Idx:   idx,
		Cause: cause,
	}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	switch e.Sev {
	case pipe.ErrSevError:
		sb.WriteString("ERROR:")
	case pipe.ErrSevWarn:
		sb.WriteString("WARN :")
	case pipe.ErrSevInfo:
		sb.WriteString("INFO :")
	default:
		return "LIBRARY INTERNAL ERROR: Invalid Error Object"
	}

	sb.WriteString(fmt.Sprintf("0x%04x ", e.Code))

	if desc, ok := errorCodeDesc[e.Code]; ok {
		sb.WriteString(fmt.Sprintf("(%s) [%s]; ", desc.name, desc.msg))
	} else {
		sb.WriteString("(unknown); ")
	}

	if e.Idx != pipe.BadLineIndex {
		sb.WriteString(fmt.Sprintf("Line=%d; ", e.Idx))
	}

	sb.WriteString(e.Message)
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code, so errors.Is(err, NewError(sev, code)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

type errDesc struct {
	name string
	msg  string
}

var errorCodeDesc = map[pipe.Err]errDesc{
	pipe.OK:                {"PV_OK", "No Error."},
	pipe.ErrFail:           {"PV_ERR_FAIL", "General failure."},
	pipe.ErrNotSeekable:    {"PV_ERR_NOT_SEEKABLE", "Trace stream does not support seeking."},
	pipe.ErrStreamSeek:     {"PV_ERR_STREAM_SEEK", "Trace stream seek failure."},
	pipe.ErrStreamRead:     {"PV_ERR_STREAM_READ", "Trace stream read failure."},
	pipe.ErrInvalidWindow:  {"PV_ERR_INVALID_WINDOW", "Requested tick window is invalid."},
	pipe.ErrUnknownDialect: {"PV_ERR_UNKNOWN_DIALECT", "Trace dialect not supported."},
	pipe.ErrConfigParse:    {"PV_ERR_CONFIG_PARSE", "Configuration file parse error."},
	pipe.ErrSourceOpen:     {"PV_ERR_SOURCE_OPEN", "Trace source could not be opened."},
	pipe.ErrBadUpload:      {"PV_ERR_BAD_UPLOAD", "Malformed trace upload."},
	pipe.ErrLast:           {"PV_ERR_LAST", "No error - error code end marker"},
}

// ErrorInfo names one error code.
type ErrorInfo struct {
	Code        pipe.Err
	Name        string
	Description string
}

// ErrorCodes lists every error code in numeric order, end marker excluded.
func ErrorCodes() []ErrorInfo {
	codes := make([]ErrorInfo, 0, pipe.ErrLast)
	for c := pipe.OK; c < pipe.ErrLast; c++ {
		d := errorCodeDesc[c]
		codes = append(codes, ErrorInfo{Code: c, Name: d.name, Description: d.msg})
	}
	return codes
}
