package executor

import (
	"fmt"
	"regexp"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand 把 s 中的 ${name} 替换为 vars[name]，未定义的变量保持原样。
func Expand(s string, vars map[string]string) string {
	if len(vars) == 0 {
		return s
	}
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := varPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Extract 对 JSON 响应体执行 JSONPath，返回 变量名 -> 第一个匹配值。
// 没有匹配的路径不会出现在结果中。
func Extract(body []byte, paths map[string]string) (map[string]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	data, err := oj.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}

	out := make(map[string]string, len(paths))
	for name, expr := range paths {
		x, err := jp.ParseString(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid JSONPath %q: %w", expr, err)
		}
		results := x.Get(data)
		if len(results) == 0 {
			continue
		}
		out[name] = stringify(results[0])
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case int64, float64, bool:
		return fmt.Sprint(t)
	default:
		return oj.JSON(t)
	}
}
