package utils

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"yqhp/loadgen/pkg/logger"
)

// SafeGo 安全地启动一个 goroutine，自动捕获 panic 并记录日志
func SafeGo(name string, fn func()) {
	SafeGoWithCallback(name, fn, nil)
}

// SafeGoWithCallback 安全地启动一个 goroutine，panic 时调用 onPanic
func SafeGoWithCallback(name string, fn func(), onPanic func(r any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panic recovered",
					zap.String("goroutine", name),
					zap.String("panic", fmt.Sprint(r)),
					zap.ByteString("stack", debug.Stack()),
				)
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// Recover 在当前 goroutine 中执行 fn，把 panic 转换为 error
func Recover(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}
