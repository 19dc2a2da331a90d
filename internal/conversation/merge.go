package conversation

import "strings"

// MergeText 将增量 delta 合并进 existing。
//
// 上游可能重发整段累计文本, 也可能发送与已有尾部重叠的窗口;
// 两种情况都只追加真正新增的部分。
func MergeText(existing, delta string) string {
	switch {
	case delta == "":
		return existing
	case existing == "":
		return delta
	case delta == existing:
		return existing
	case strings.HasPrefix(delta, existing):
		return delta
	case strings.HasPrefix(existing, delta):
		return existing
	}
	for n := min(len(existing), len(delta)); n > 0; n-- {
		if strings.HasSuffix(existing, delta[:n]) {
			return existing + delta[n:]
		}
	}
	return existing + delta
}
