package errs

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind int

const (
	KindValidation      Kind = iota // 入参或前置条件错误，不可重试
	KindAuthorization               // 调用者无权限，不可重试
	KindNotFound                    // 资源不存在
	KindChainTransient              // 链上瞬时错误（网络/超时），可退避重试
	KindChainRejected               // 链上拒绝（余额不足/合约revert），不可重试
	KindEscrowNotFunded             // 托管尚未注资，release前置条件不满足
	KindDecode                      // 事件负载解析失败，仅记录日志后丢弃
)

// Error 带分类的错误
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation 创建入参校验错误
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Authorization 创建权限错误
func Authorization(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

// NotFound 创建资源不存在错误
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// ChainTransient 包装链上瞬时错误
func ChainTransient(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindChainTransient, Message: fmt.Sprintf(format, args...), Err: err}
}

// ChainRejected 包装链上拒绝错误
func ChainRejected(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindChainRejected, Message: fmt.Sprintf(format, args...), Err: err}
}

// EscrowNotFunded 创建托管未注资错误
func EscrowNotFunded(format string, args ...interface{}) *Error {
	return &Error{Kind: KindEscrowNotFunded, Message: fmt.Sprintf(format, args...)}
}

// Decode 包装事件解析错误
func Decode(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindDecode, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 返回错误的分类，未分类的错误归为KindValidation之外的默认值-1
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return -1
}

// Is 判断错误是否属于指定分类
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsRetryable 仅链上瞬时错误可重试
func IsRetryable(err error) bool {
	return Is(err, KindChainTransient)
}
