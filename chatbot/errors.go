package chatbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies a failed call to the Chat API
type ErrorKind int

// ErrorKinds
const (
	ErrorKindClient ErrorKind = iota
	ErrorKindTimeout
	ErrorKindNetwork
	ErrorKindServer
	ErrorKindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindNetwork:
		return "network"
	case ErrorKindServer:
		return "server"
	case ErrorKindNotFound:
		return "not_found"
	default:
		return "client"
	}
}

// Error is a classified Chat API failure
type Error struct {
	Kind   ErrorKind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("chat api %s error", e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap allows errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the text shown to the user for e
func (e *Error) UserMessage() string {
	switch e.Kind {
	case ErrorKindTimeout:
		return "요청 시간이 초과되었습니다."
	case ErrorKindNetwork:
		return "네트워크 연결을 확인해주세요."
	case ErrorKindNotFound:
		return "요청한 리소스를 찾을 수 없습니다."
	case ErrorKindServer:
		detail := e.Detail
		if detail == "" {
			detail = "서버에서 오류가 발생했습니다."
		}
		return "서버 오류: " + detail
	default:
		return "메시지 전송에 실패했습니다."
	}
}

// UserMessage returns the text shown to the user for any error returned by Client
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.UserMessage()
	}
	return (&Error{Kind: ErrorKindClient}).UserMessage()
}

// IsKind returns true if err is an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// transportError classifies an error returned by http.Client.Do or a body read
func transportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrorKindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: ErrorKindTimeout, Err: err}
	}
	return &Error{Kind: ErrorKindNetwork, Err: err}
}

// statusError classifies a non-2xx response. body is the (possibly truncated) response body.
func statusError(status int, body []byte) *Error {
	e := &Error{Status: status, Detail: errorDetail(body)}
	switch {
	case status == http.StatusNotFound:
		e.Kind = ErrorKindNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Kind = ErrorKindTimeout
	case status >= 500:
		e.Kind = ErrorKindServer
	default:
		e.Kind = ErrorKindClient
	}
	return e
}

// errorDetail extracts {"detail": "..."} from a backend error body, or returns the trimmed body
func errorDetail(body []byte) string {
	var v struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &v); err == nil && len(v.Detail) > 0 {
		var s string
		if err := json.Unmarshal(v.Detail, &s); err == nil {
			return s
		}
		return string(v.Detail)
	}
	return strings.TrimSpace(string(body))
}
