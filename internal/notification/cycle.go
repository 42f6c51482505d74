package notification

import (
	"context"
	"fmt"
	"strings"

	"sip-agent/internal/model"
)

// CycleSink turns finished cycles into alerts. Cycles where every asset was
// skipped stay quiet. It implements model.OutcomeSink.
type CycleSink struct {
	notifier Notifier
}

// NewCycleSink creates a sink alerting through n.
func NewCycleSink(n Notifier) *CycleSink {
	return &CycleSink{notifier: n}
}

func (s *CycleSink) Record(ctx context.Context, c model.Cycle) error {
	alert, ok := CycleAlert(c)
	if !ok {
		return nil
	}
	return s.notifier.Send(ctx, alert)
}

// CycleAlert builds the alert for c. ok is false when nothing was bought
// and nothing errored.
func CycleAlert(c model.Cycle) (Alert, bool) {
	bought, _, errored := c.Tally()
	if bought == 0 && errored == 0 {
		return Alert{}, false
	}

	level := AlertInfo
	if errored > 0 {
		level = AlertWarning
		if bought == 0 && errored == len(c.Outcomes) {
			level = AlertCritical
		}
	}

	var lines []string
	for _, o := range c.Outcomes {
		switch o.Decision {
		case model.DecisionBought:
			line := fmt.Sprintf("BUY %s %.2f USDC (%s)", o.Asset, o.Budget, o.Reason)
			if o.Receipt != nil {
				line += fmt.Sprintf(" tx %s @ %g", o.Receipt.TxSig, float64(o.Receipt.Price))
			}
			lines = append(lines, line)
		case model.DecisionErrored:
			lines = append(lines, fmt.Sprintf("ERR %s [%s] %s", o.Asset, o.ErrorKind, o.Error))
		}
	}

	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("cycle %s: %d bought, %d errored", shortID(c.ID), bought, errored),
		Message: strings.Join(lines, "\n"),
		CycleID: c.ID,
		Bought:  bought,
		Errored: errored,
	}, true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
