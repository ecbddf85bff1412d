package reward

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/actions"
	"github.com/danielpatrickdp/nudge-controller/internal/channel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/danielpatrickdp/nudge-controller/internal/reward")

// #region errors

var (
	// ErrNoResponse means every reminder went unanswered. It is not a zero reward.
	ErrNoResponse = errors.New("reward: no response after reminders")
	// ErrSkipped means the recipient explicitly skipped the reward question.
	ErrSkipped = errors.New("reward: question skipped")
)

// #endregion errors

// #region config

// Config controls reminders and waits.
type Config struct {
	RemindAmt   int                      `yaml:"remind_amt"`
	PollTimeout time.Duration            `yaml:"poll_timeout"`
	PreProbe    map[string]time.Duration `yaml:"pre_probe"` // per category wait before the reward question
	DefaultWait time.Duration            `yaml:"default_wait"`
}

// DefaultConfig asks three times, polls two minutes each, and waits an hour
// after enjoyable activities and half an hour after anything else.
func DefaultConfig() Config {
	return Config{
		RemindAmt:   3,
		PollTimeout: 120 * time.Second,
		PreProbe:    map[string]time.Duration{"enjoyable": 60 * time.Minute},
		DefaultWait: 30 * time.Minute,
	}
}

// Wait returns the pre-probe wait for category.
func (c Config) Wait(category string) time.Duration {
	if d, ok := c.PreProbe[category]; ok {
		return d
	}
	return c.DefaultWait
}

// MoodCheckSurvey is the survey id sent in mood-checking mode.
const MoodCheckSurvey = "995"

// ClearScreen is the silent variant of MoodCheckSurvey. The survey app shows
// it as a blank screen without an alarm.
const ClearScreen = MoodCheckSurvey + ":silent"

// Message ids understood by the survey app.
const (
	checkInPrefix   = "daytime:check_in:"
	recommendPrefix = "daytime:recomm:"
	implementProbe  = "daytime:postrecomm:implement:1"
	helpfulYesProbe = "daytime:postrecomm:helpfulyes:1"
	helpfulNoProbe  = "daytime:postrecomm:helpfulno:1"
	checkInVariants = 5
)

// Answer codes.
const (
	answerYes         = 1.0
	answerNo          = 0.0
	answerAcknowledge = 0.0
)

// #endregion config

// #region probe

// Probe is one question with its accepted answer codes.
type Probe struct {
	Message   string
	Expected  []float64 // codes that end the reminder loop; include channel.SkipCode to accept a skip
	AnyAnswer bool      // accept any answer, including a skip
}

// Response is what Ask observed.
type Response struct {
	Answer        channel.Answer
	CorrelationID string // id of the last send, set even when unanswered
	Answered      bool
}

// HistorySink receives helpfulness answers per category.
type HistorySink interface {
	RecordHelpfulness(category string, answer float64)
}

// #endregion probe

// #region protocol

// Protocol runs the bounded-retry question loops against a channel.
type Protocol struct {
	ch    channel.Channel
	cfg   Config
	log   *zap.Logger
	sleep func(context.Context, time.Duration) error
	pick  func(n int) int
}

// NewProtocol creates a protocol over ch.
func NewProtocol(ch channel.Channel, cfg Config, log *zap.Logger) *Protocol {
	if cfg.RemindAmt < 1 {
		cfg.RemindAmt = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Protocol{ch: ch, cfg: cfg, log: log, sleep: sleepContext, pick: rand.IntN}
}

// Ask sends probe up to RemindAmt times, polling after each send. A failed
// send counts as an attempt.
func (p *Protocol) Ask(ctx context.Context, recipient string, probe Probe) (Response, error) {
	var resp Response
	var lastErr error

	for attempt := 1; attempt <= p.cfg.RemindAmt; attempt++ {
		id, err := p.ch.Send(ctx, probe.Message, recipient, probe.Expected)
		if err != nil {
			if ctx.Err() != nil {
				return resp, ctx.Err()
			}
			lastErr = err
			p.log.Warn("survey send failed", zap.String("message", probe.Message), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		resp.CorrelationID = id

		a, ok, err := p.ch.Poll(ctx, id, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return resp, ctx.Err()
			}
			lastErr = err
			p.log.Warn("survey poll failed", zap.String("correlation_id", id), zap.Error(err))
			continue
		}
		if !ok {
			p.log.Debug("no answer, reminding", zap.String("message", probe.Message), zap.Int("attempt", attempt))
			continue
		}
		if probe.AnyAnswer || slices.Contains(probe.Expected, a.Code()) {
			resp.Answer = a
			resp.Answered = true
			return resp, nil
		}
		p.log.Debug("unexpected answer, reminding", zap.String("message", probe.Message), zap.Float64("code", a.Code()))
	}

	if lastErr != nil {
		return resp, fmt.Errorf("%w: %v", ErrNoResponse, lastErr)
	}
	return resp, ErrNoResponse
}

// #endregion protocol

// #region send

// SendAction runs the check-in question and then delivers the recommendation.
// The recommendation's correlation id is returned even when it goes
// unacknowledged.
func (p *Protocol) SendAction(ctx context.Context, recipient string, action actions.Action) (string, error) {
	ctx, span := tracer.Start(ctx, "reward.send_action")
	defer span.End()
	span.SetAttributes(attribute.String("action", action.Label))

	checkIn := Probe{
		Message:  fmt.Sprintf("%s%d", checkInPrefix, p.pick(checkInVariants)+1),
		Expected: []float64{answerAcknowledge, channel.SkipCode},
	}
	if _, err := p.Ask(ctx, recipient, checkIn); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.log.Debug("check-in unanswered", zap.Error(err))
	}

	resp, err := p.Ask(ctx, recipient, Probe{
		Message:  recommendPrefix + action.Label,
		Expected: []float64{answerAcknowledge},
	})
	if resp.CorrelationID == "" {
		if err == nil {
			err = errors.New("empty correlation id")
		}
		return "", fmt.Errorf("send recommendation %s: %w", action.Label, err)
	}
	if err != nil {
		p.log.Debug("recommendation not acknowledged", zap.String("correlation_id", resp.CorrelationID), zap.Error(err))
	}
	return resp.CorrelationID, nil
}

// Notify sends a one-off survey with no expected answer.
func (p *Protocol) Notify(ctx context.Context, recipient, survey string) (string, error) {
	id, err := p.ch.Send(ctx, survey, recipient, nil)
	if err != nil {
		return "", fmt.Errorf("notify %s: %w", survey, err)
	}
	return id, nil
}

// #endregion send

// #region collect

// CollectReward waits the category's grace period, asks whether the
// recommendation was done and runs the matching follow-up. Yes is reward 1,
// no is reward 0. The recipient's screen is cleared before the wait and again
// once the questions are over, whatever their outcome.
func (p *Protocol) CollectReward(ctx context.Context, recipient string, action actions.Action, history HistorySink) (float64, error) {
	ctx, span := tracer.Start(ctx, "reward.collect")
	defer span.End()
	span.SetAttributes(attribute.String("action", action.Label))

	p.clearScreen(ctx, recipient)
	if err := p.sleep(ctx, p.cfg.Wait(action.Category)); err != nil {
		return 0, err
	}

	resp, err := p.Ask(ctx, recipient, Probe{
		Message:  implementProbe,
		Expected: []float64{answerYes, answerNo, channel.SkipCode},
	})
	defer p.clearScreen(ctx, recipient)
	if err != nil {
		return 0, err
	}
	if resp.Answer.Skipped {
		return 0, ErrSkipped
	}

	if resp.Answer.Value == answerYes {
		follow, err := p.Ask(ctx, recipient, Probe{Message: helpfulYesProbe, AnyAnswer: true})
		switch {
		case err != nil:
			p.log.Debug("helpfulness follow-up unanswered", zap.Error(err))
		case !follow.Answer.Skipped && history != nil:
			history.RecordHelpfulness(action.Category, follow.Answer.Value)
		}
		span.SetAttributes(attribute.Float64("reward", 1))
		return 1, nil
	}

	if _, err := p.Ask(ctx, recipient, Probe{Message: helpfulNoProbe, AnyAnswer: true}); err != nil {
		p.log.Debug("why-not follow-up unanswered", zap.Error(err))
	}
	span.SetAttributes(attribute.Float64("reward", 0))
	return 0, nil
}

// clearScreen is best effort; a failed send only gets logged.
func (p *Protocol) clearScreen(ctx context.Context, recipient string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := p.Notify(ctx, recipient, ClearScreen); err != nil {
		p.log.Debug("clear screen failed", zap.String("recipient", recipient), zap.Error(err))
	}
}

// #endregion collect

// #region helpers

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// #endregion helpers
