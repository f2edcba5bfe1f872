package model

import (
	"errors"
	"fmt"
)

// ErrorKind はAPIエラーの分類を表す。
// HTTPステータスコードへのマッピングはハンドラー層で行う。
type ErrorKind string

const (
	// KindInvalidInput はリクエスト形式の不正（配列でないボディ等）を示す。
	KindInvalidInput ErrorKind = "invalid_input"
	// KindNotFound は要求されたキーに対応するデータが存在しないことを示す。
	KindNotFound ErrorKind = "not_found"
	// KindStorage はストレージ層の失敗（I/O、DB接続断等）を示す。
	KindStorage ErrorKind = "storage"
)

// APIError は分類付きのアプリケーションエラー。
type APIError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap はラップされた元エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError は入力不正エラーを生成する。
func NewInvalidInputError(message string) *APIError {
	return &APIError{Kind: KindInvalidInput, Message: message}
}

// NewNotFoundError はデータ未検出エラーを生成する。
func NewNotFoundError(message string) *APIError {
	return &APIError{Kind: KindNotFound, Message: message}
}

// NewStorageError はストレージ失敗エラーを生成する。
func NewStorageError(message string, err error) *APIError {
	return &APIError{Kind: KindStorage, Message: message, Err: err}
}

// KindOf はエラーの分類を返す。APIErrorでない場合はKindStorage扱いとする。
// 未分類のエラーを500にフォールバックさせるための集約ポイント。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindStorage
}
