// Package errors 提供统一错误类型与哨兵错误。
//
// 两层结构:
//   - L1 哨兵错误: ErrNotFound / ErrInvalidInput / ErrClosed 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
//
// 对话归并核心 (internal/conversation) 从不返回错误; 本包只服务于
// 配置、存储、传输和 HTTP 这些外围层。
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在 (线程、条目)
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrClosed 连接或客户端已关闭
	ErrClosed = errors.New("closed")

	// ErrNotConfigured 依赖未配置 (例如未提供数据库连接串)
	ErrNotConfigured = errors.New("not configured")
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "ItemStore.LoadThread"
	Code    string // 错误码，如 "DB_ERROR"、"VALIDATION"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。err 为 nil 时返回 nil。
func Wrap(err error, op string, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。err 为 nil 时返回 nil。
func Wrapf(err error, op, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCode 返回带错误码的应用错误, 用于 HTTP 层映射。
func WithCode(err error, op, code, message string) error {
	return &AppError{Op: op, Code: code, Message: message, Err: err}
}

// CodeOf 提取错误链上第一个非空错误码。
func CodeOf(err error) string {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return ""
		}
		if appErr.Code != "" {
			return appErr.Code
		}
		err = appErr.Err
	}
	return ""
}

// Is 转发到标准库, 避免调用方同时 import 两个 errors 包。
func Is(err, target error) bool { return errors.Is(err, target) }

// As 转发到标准库。
func As(err error, target any) bool { return errors.As(err, target) }
