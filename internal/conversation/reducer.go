// reducer.go: 按 id 的 upsert 与字段级合并。
package conversation

// MergeItem 返回 base 与 patch 的字段级合并结果: patch 中存在的字段覆盖 base,
// 缺失字段保留 base 的值。Kind 以 base 为准 (首次出现时确定)。
func MergeItem(base, patch Item) Item {
	out := base
	if base.Kind == "" {
		out.Kind = patch.Kind
	}
	overwrite(&out.Role, patch.Role)
	overwrite(&out.Text, patch.Text)
	overwrite(&out.Summary, patch.Summary)
	overwrite(&out.Content, patch.Content)
	overwrite(&out.Title, patch.Title)
	overwrite(&out.Detail, patch.Detail)
	overwrite(&out.Status, patch.Status)
	overwrite(&out.Output, patch.Output)
	overwrite(&out.Diff, patch.Diff)
	overwrite(&out.ToolType, patch.ToolType)
	overwrite(&out.DurationMS, patch.DurationMS)
	overwrite(&out.State, patch.State)
	if patch.Changes != nil {
		out.Changes = patch.Changes
	}
	return out
}

func overwrite[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

// Find 返回 id 对应的条目及其下标。
func Find(list []Item, id string) (Item, int, bool) {
	for i := range list {
		if list[i].ID == id {
			return list[i], i, true
		}
	}
	return Item{}, -1, false
}

// Upsert 同 id 则原位合并, 否则追加到末尾。
// 返回新切片, 入参 list 不被修改。
func Upsert(list []Item, item Item) []Item {
	_, index, ok := Find(list, item.ID)
	next := make([]Item, len(list), len(list)+1)
	copy(next, list)
	if ok {
		next[index] = MergeItem(next[index], item)
		return next
	}
	return append(next, item)
}

// Ingest 归一化后 upsert 一个由 BuildItem 得到的条目。
//
// 条目只带空消息占位符时, 保留已累积的流式文本。
func (l Limits) Ingest(list []Item, item Item) []Item {
	if item.Kind == KindMessage && item.TextValue() == MessagePlaceholder {
		if existing, _, ok := Find(list, item.ID); ok && hasRealText(existing) {
			item.Text = nil
		}
	}
	return Upsert(list, l.Normalize(item))
}

// DeltaField 增量事件作用的字段。
type DeltaField int

const (
	DeltaText DeltaField = iota
	DeltaSummary
	DeltaContent
	DeltaOutput
)

// ApplyDelta 将一段增量文本合并进 seed.ID 对应条目的 field。
//
// 条目不存在时以 seed 创建 (seed 提供 Kind / Role / ToolType);
// 占位符文本视为空, 不参与合并。
func (l Limits) ApplyDelta(list []Item, seed Item, field DeltaField, delta string) []Item {
	if delta == "" || seed.ID == "" {
		return list
	}
	base := seed
	if existing, _, ok := Find(list, seed.ID); ok {
		base = existing
	}

	patch := Item{ID: seed.ID, Kind: seed.Kind, Role: seed.Role, ToolType: seed.ToolType}
	switch field {
	case DeltaText:
		current := base.TextValue()
		if current == MessagePlaceholder {
			current = ""
		}
		merged := MergeText(current, delta)
		patch.Text = &merged
	case DeltaSummary:
		merged := MergeText(deref(base.Summary), delta)
		patch.Summary = &merged
	case DeltaContent:
		merged := MergeText(deref(base.Content), delta)
		patch.Content = &merged
	case DeltaOutput:
		merged := MergeText(deref(base.Output), delta)
		patch.Output = &merged
	default:
		return list
	}
	return Upsert(list, l.Normalize(patch))
}

func hasRealText(item Item) bool {
	text := item.TextValue()
	return text != "" && text != MessagePlaceholder
}
