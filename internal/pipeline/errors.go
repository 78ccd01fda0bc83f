package pipeline

import (
	"errors"
	"fmt"

	"chemsim/internal/shared/model"
)

var (
	// ErrExternalService 生成模型调用失败
	ErrExternalService = errors.New("external service")
	// ErrStorage 产物写入失败
	ErrStorage = errors.New("storage")
)

// StageError 某个阶段的失败
//
// errors.Is 可同时匹配错误类别（ErrExternalService / ErrStorage）与底层错误。
type StageError struct {
	Stage model.Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
