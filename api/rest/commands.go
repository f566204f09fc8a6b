package rest

import (
	"errors"
	"fmt"

	"yqhp/loadgen/pkg/types"
	"yqhp/loadgen/pkg/utils"
)

var (
	// ErrUnknownAction 表示 action 不是已知命令。
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidBody 表示请求体不是合法 JSON。
	ErrInvalidBody = errors.New("invalid request body")
)

// DecodeCommand 解析 POST 请求体 {action, config}。
// run_custom_test 的配置在这里完成必填字段校验，校验失败不会启动任何运行。
func DecodeCommand(body []byte) (Command, error) {
	var env commandEnvelope
	if err := utils.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}

	switch env.Action {
	case ActionRunStandardTests:
		return RunStandardTests{}, nil

	case ActionRunTest:
		name, err := decodeName(env.Config)
		if err != nil {
			return nil, err
		}
		return RunTest{Name: name}, nil

	case ActionRunCustomTest:
		if len(env.Config) == 0 {
			return nil, &types.ValidationError{Field: "config"}
		}
		var cfg types.TestConfiguration
		if err := utils.Unmarshal(env.Config, &cfg); err != nil {
			return nil, fmt.Errorf("%w: config: %v", ErrInvalidBody, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return RunCustomTest{Config: &cfg}, nil

	case ActionStopTest:
		name, err := decodeName(env.Config)
		if err != nil {
			return nil, err
		}
		return StopTest{Name: name}, nil

	case ActionStopAllTests:
		return StopAllTests{}, nil

	case "":
		return nil, &types.ValidationError{Field: "action"}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, env.Action)
}

func decodeName(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", &types.ValidationError{Field: "config.name"}
	}
	var nc namedConfig
	if err := utils.Unmarshal(raw, &nc); err != nil {
		return "", fmt.Errorf("%w: config: %v", ErrInvalidBody, err)
	}
	if nc.Name == "" {
		return "", &types.ValidationError{Field: "config.name"}
	}
	return nc.Name, nil
}
