package service

import (
	"errors"
	"fmt"

	"mafia_web/internal/repository"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrPlayerNotFound = errors.New("player not found")
	ErrRoomExists     = errors.New("room already exists")
)

// ValidationError 指令在目前的階段、角色或存活狀態下不合法
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(op, format string, args ...any) error {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// PersistenceError 儲存失敗，指令沒有生效
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation 判斷是否為可回報給客戶端的規則錯誤
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound 判斷房間或玩家不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrPlayerNotFound)
}

// mapRepoError 將 repository 的錯誤轉為服務層的錯誤分類
func mapRepoError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrRoomNotFound):
		return ErrRoomNotFound
	case errors.Is(err, repository.ErrRoomExists):
		return ErrRoomExists
	default:
		return &PersistenceError{Op: op, Err: err}
	}
}
