package notify

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "notify")

// Notifier delivers human-facing messages. Delivery is fire-and-forget:
// failures are logged and never propagate into trading flow.
type Notifier interface {
	// Notify sends an informational message.
	Notify(format string, args ...interface{})

	// Alert sends an operator alert tagged with a stable code. Alerts are
	// for conditions that need a human: unprotected positions, race
	// corrections, emergency exits.
	Alert(code string, format string, args ...interface{})
}

// LogNotifier writes notifications to the process log. It is the default
// sink and the fallback when no external channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func (LogNotifier) Alert(code string, format string, args ...interface{}) {
	log.WithField("alert", code).Warnf(format, args...)
}

// Group fans a message out to several sinks.
type Group []Notifier

func (g Group) Notify(format string, args ...interface{}) {
	for _, n := range g {
		n.Notify(format, args...)
	}
}

func (g Group) Alert(code string, format string, args ...interface{}) {
	for _, n := range g {
		n.Alert(code, format, args...)
	}
}
