// Package errors 定义 MerkleBatch-Chain 的统一错误码。各业务包在 init 中
// 通过 Register 登记自己的错误码，errors.Is 按错误码比较。
package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// 通用错误码；证明、批次与归档相关的错误码由各自的包登记。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeDispatchFailure       Code = "DISPATCH_FAILURE"
)

// Severity 决定告警事件的级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 是错误码的默认描述。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	// Alert 为 true 时，服务层在归档或投递失败后发出告警。
	Alert bool
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Code]Attributes)
)

func init() {
	Register(CodeUnknown, Attributes{Message: "unknown error", Severity: SeverityCritical, Alert: true})
	Register(CodeInvalidArgument, Attributes{Message: "invalid argument", Severity: SeverityInfo})
	Register(CodeNotFound, Attributes{Message: "resource not found", Severity: SeverityInfo})
	Register(CodeInitializationFailure, Attributes{Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true})
	// 批次已经执行后才会出现归档与投递失败，两者都需要人工介入。
	Register(CodeStorageFailure, Attributes{Message: "batch archive failure", Severity: SeverityCritical, Retryable: true, Alert: true})
	Register(CodeDispatchFailure, Attributes{Message: "executed record dispatch failure", Severity: SeverityCritical, Retryable: true, Alert: true})
}

// Register 登记或覆盖错误码的默认描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	registry[code] = attr
	registryMu.Unlock()
}

func lookup(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是携带错误码的错误。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
}

// Option 调整单个错误实例。
type Option func(*Error)

// WithMetadata 附加键值信息，例如 batch_id。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码默认的可重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// New 创建错误；message 为空时使用错误码登记的描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = lookup(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf 使用格式化信息创建错误。
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 为底层错误附加错误码。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 仅比较错误码，因此包级哨兵错误可以匹配任意同码实例。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if e == nil || !ok || t == nil {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含底层原因的描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return lookup(e.code).Retryable
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	return e != nil && lookup(e.code).Alert
}

// Severity 返回错误码登记的严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return lookup(e.code).Severity
}

// From 从错误链中取出 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误链中的错误码，普通错误视为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// SeverityOf 返回错误链中的严重程度，普通错误视为 UNKNOWN 的严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return lookup(CodeUnknown).Severity
}
