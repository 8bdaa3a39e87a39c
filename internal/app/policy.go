package app

import "context"

// Action names an administrative operation.
type Action string

const (
	ActionSetup        Action = "setup"
	ActionDelete       Action = "delete"
	ActionEnd          Action = "end"
	ActionPause        Action = "pause"
	ActionResume       Action = "resume"
	ActionKick         Action = "kick"
	ActionAdjustPoints Action = "adjust-points"
	ActionConfigure    Action = "configure"
	ActionViewAnswers  Action = "view-answers"
)

// Policy decides whether actor may perform action.
type Policy interface {
	Allow(ctx context.Context, actor string, action Action) bool
}

// AllowList permits every action to a fixed set of user ids.
type AllowList struct {
	ids map[string]struct{}
}

func NewAllowList(ids ...string) AllowList {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return AllowList{ids: set}
}

func (a AllowList) Allow(_ context.Context, actor string, _ Action) bool {
	_, ok := a.ids[actor]
	return ok
}

// AllowAll permits everything. Useful for tests and single-operator setups.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, string, Action) bool { return true }
