package gate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// #region gate
// Gate evaluates the admission checks run by the dispatch controller.
type Gate struct {
	config Config
}

// NewGate creates a gate with the given configuration.
func NewGate(config Config) *Gate {
	return &Gate{config: config}
}

// Cooldown rejects while fewer than cooldown has elapsed since last.
func (g *Gate) Cooldown(last time.Time, cooldown time.Duration, now time.Time) Decision {
	if elapsed := now.Sub(last); elapsed < cooldown {
		return Decision{
			Reject: RejectCooldown,
			Reason: fmt.Sprintf("in cooldown: %s of %s elapsed", elapsed.Round(time.Second), cooldown),
		}
	}
	return allow()
}

// Quota rejects once sent has reached maxDaily.
func (g *Gate) Quota(sent, maxDaily int) Decision {
	if sent >= maxDaily {
		return Decision{
			Reject: RejectQuota,
			Reason: fmt.Sprintf("daily quota reached: %d/%d", sent, maxDaily),
		}
	}
	return allow()
}

// Window rejects outside [Morning, Evening].
func (g *Gate) Window(now time.Time) Decision {
	tod := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute
	if tod < g.config.Morning || tod > g.config.Evening {
		return Decision{
			Reject: RejectWindow,
			Reason: fmt.Sprintf("%s outside %s-%s", FormatClock(tod), FormatClock(g.config.Morning), FormatClock(g.config.Evening)),
		}
	}
	return allow()
}

func allow() Decision {
	return Decision{Allowed: true}
}

// #endregion gate

// #region clock
// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q: bad minute", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// FormatClock renders an offset from midnight as "HH:MM".
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// #endregion clock
