package dispatch

import (
	"context"

	"github.com/danielpatrickdp/nudge-controller/internal/actions"
	"github.com/danielpatrickdp/nudge-controller/internal/reward"
	"github.com/danielpatrickdp/nudge-controller/internal/store"
)

// #region stage
// Stage names the last pipeline step an event reached.
type Stage string

const (
	StageCooldown  Stage = "cooldown"
	StageContext   Stage = "context"
	StageDecision  Stage = "decision"
	StageQuota     Stage = "quota"
	StageWindow    Stage = "window"
	StageSend      Stage = "send"
	StageReward    Stage = "reward"
	StageLearn     Stage = "learn"
	StageMoodCheck Stage = "mood_check"
	StagePanic     Stage = "panic"
)

// #endregion stage

// #region event
// Event is one trigger from the sensing side: who it concerns and its
// raw feature vector.
type Event struct {
	Recipient string    `json:"recipient"`
	Features  []float64 `json:"features"`
}

// #endregion event

// #region outcome
// Outcome reports how an event ended.
type Outcome struct {
	Stage         Stage
	Reason        string
	Action        int // -1 until the model has chosen
	Source        string
	CorrelationID string
	Reward        float64
	Err           error
}

// Learned reports whether the event went all the way to a model update.
func (o Outcome) Learned() bool {
	return o.Stage == StageLearn && o.Err == nil
}

// Rejected reports whether a gate stopped the event.
func (o Outcome) Rejected() bool {
	switch o.Stage {
	case StageCooldown, StageQuota, StageWindow:
		return o.Err == nil
	}
	return false
}

// #endregion outcome

// #region collaborators
// RecordSink persists completed decisions.
type RecordSink interface {
	SaveDecision(ctx context.Context, rec store.DecisionRecord) error
}

// Rewarder delivers an action and obtains its reward.
type Rewarder interface {
	SendAction(ctx context.Context, recipient string, action actions.Action) (string, error)
	CollectReward(ctx context.Context, recipient string, action actions.Action, history reward.HistorySink) (float64, error)
	Notify(ctx context.Context, recipient, survey string) (string, error)
}

var _ Rewarder = (*reward.Protocol)(nil)

// #endregion collaborators
