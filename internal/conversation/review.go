package conversation

// ReviewStateOf 返回当前 review 周期的状态。
//
// none → started → completed → none: 最近的 review 条目为 started 时处于 review 中;
// 为 completed 且其后已有其它条目时, 周期结束回到 none。
// 紧随其后的 review 结论回显不算新的活动。
func ReviewStateOf(items []Item) ReviewState {
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if item.Kind != KindReview || item.State == nil {
			continue
		}
		switch *item.State {
		case ReviewStarted:
			return ReviewStarted
		case ReviewCompleted:
			trailing := items[i+1:]
			if len(trailing) == 0 || (len(trailing) == 1 && echoesReview(item, trailing[0])) {
				return ReviewCompleted
			}
			return ReviewNone
		}
	}
	return ReviewNone
}
