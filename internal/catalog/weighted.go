package catalog

// Weighted 是可以按权重选择的条目。
type Weighted interface {
	GetWeight() float64
}

// Float64Source 提供 [0,1) 区间的随机数，*rand.Rand 满足该接口。
type Float64Source interface {
	Float64() float64
}

// SelectWeighted 按权重随机选择一项。
// 抽取 r = random()*Σweight，依次减去权重直到 r <= 0。
// 列表为空时返回 false，由调用方回退到其他选择方式；
// 所有权重都不为正时退化为均匀随机选择。
func SelectWeighted[T Weighted](items []T, rng Float64Source) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}

	total := 0.0
	lastPositive := -1
	for i, item := range items {
		if w := item.GetWeight(); w > 0 {
			total += w
			lastPositive = i
		}
	}

	if total <= 0 {
		idx := int(rng.Float64() * float64(len(items)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		return items[idx], true
	}

	r := rng.Float64() * total
	for _, item := range items {
		w := item.GetWeight()
		if w <= 0 {
			continue
		}
		r -= w
		if r <= 0 {
			return item, true
		}
	}

	// 浮点累计误差兜底
	return items[lastPositive], true
}

// SelectUniform 均匀随机选择一项。
func SelectUniform[T any](items []T, rng Float64Source) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	idx := int(rng.Float64() * float64(len(items)))
	if idx >= len(items) {
		idx = len(items) - 1
	}
	return items[idx], true
}
