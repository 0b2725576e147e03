package announcement

import "time"

// VisibilityReason 说明可见性由哪条规则决定。
type VisibilityReason string

const (
	ReasonTakedown    VisibilityReason = "takedown"     // 下线时间已到
	ReasonScheduled   VisibilityReason = "scheduled"    // 尚未到定时发布时间
	ReasonPublishFlag VisibilityReason = "publish_flag" // 由手动发布开关决定
)

// Visibility 是可见性判定结果。
type Visibility struct {
	Visible bool             `json:"visible"`
	Reason  VisibilityReason `json:"reason"`
}

// ResolveVisibility 按优先级判定公告在 now 时刻是否公开可见：
// 下线时间已到（now >= takedownAt）> 定时发布未到（now < scheduledAt）> isPublished。
// 纯函数，无副作用，可在任意并发读路径上调用。
func ResolveVisibility(isPublished bool, scheduledAt, takedownAt *time.Time, now time.Time) Visibility {
	if takedownAt != nil && !now.Before(*takedownAt) {
		return Visibility{Visible: false, Reason: ReasonTakedown}
	}
	if scheduledAt != nil && now.Before(*scheduledAt) {
		return Visibility{Visible: false, Reason: ReasonScheduled}
	}
	return Visibility{Visible: isPublished, Reason: ReasonPublishFlag}
}

// IsVisible 是 ResolveVisibility 的布尔简写。
func IsVisible(isPublished bool, scheduledAt, takedownAt *time.Time, now time.Time) bool {
	return ResolveVisibility(isPublished, scheduledAt, takedownAt, now).Visible
}

// State 是由标记位与时间推导出的生命周期状态，不单独落库。
type State string

const (
	StateDraft     State = "draft"
	StateScheduled State = "scheduled"
	StatePublished State = "published"
	StateTakenDown State = "taken_down"
)

// ResolveState 推导后台展示用的状态，判定顺序与 ResolveVisibility 一致。
func ResolveState(isPublished bool, scheduledAt, takedownAt *time.Time, now time.Time) State {
	v := ResolveVisibility(isPublished, scheduledAt, takedownAt, now)
	switch {
	case v.Reason == ReasonTakedown:
		return StateTakenDown
	case v.Reason == ReasonScheduled:
		return StateScheduled
	case v.Visible:
		return StatePublished
	default:
		return StateDraft
	}
}

// ParseState 解析查询参数中的状态，未知值返回 false。
func ParseState(raw string) (State, bool) {
	switch State(raw) {
	case StateDraft, StateScheduled, StatePublished, StateTakenDown:
		return State(raw), true
	default:
		return "", false
	}
}
