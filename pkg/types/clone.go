package types

import "github.com/jinzhu/copier"

// Clone 返回配置的深拷贝，运行期间对原配置的修改不会影响运行。
func (c *TestConfiguration) Clone() *TestConfiguration {
	if c == nil {
		return nil
	}
	var out TestConfiguration
	if err := copier.CopyWithOption(&out, c, copier.Option{DeepCopy: true}); err != nil {
		// copier 只在类型不匹配时失败，同类型拷贝退化为浅拷贝
		shallow := *c
		return &shallow
	}
	return &out
}

// Clone 返回结果的拷贝，切片和 map 不与原结果共享。
func (r *TestResult) Clone() *TestResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Errors = append([]TestError(nil), r.Errors...)
	out.ResourceUsage = append([]ResourceSample(nil), r.ResourceUsage...)
	if r.EndpointStats != nil {
		out.EndpointStats = make(map[string]*EndpointStats, len(r.EndpointStats))
		for k, v := range r.EndpointStats {
			s := *v
			out.EndpointStats[k] = &s
		}
	}
	return &out
}
