package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(1*time.Second), 3)

type slackTask struct {
	Channel string
	Opts    []slack.MsgOption
}

// SlackNotifier posts messages to Slack through a background worker so that
// trading paths never wait on the Slack API. The task queue is bounded; when
// it is full the message is dropped with a log entry.
type SlackNotifier struct {
	client *slack.Client

	channel      string
	alertChannel string

	taskC chan slackTask
}

type SlackOption func(notifier *SlackNotifier)

// SlackAlertChannel routes alerts to a separate channel, for example an
// ops channel with paging attached.
func SlackAlertChannel(channel string) SlackOption {
	return func(notifier *SlackNotifier) {
		notifier.alertChannel = channel
	}
}

func NewSlackNotifier(client *slack.Client, channel string, options ...SlackOption) *SlackNotifier {
	notifier := &SlackNotifier{
		client:  client,
		channel: channel,
		taskC:   make(chan slackTask, 100),
	}
	notifier.alertChannel = channel

	for _, o := range options {
		o(notifier)
	}

	go notifier.worker()

	return notifier
}

func (n *SlackNotifier) worker() {
	ctx := context.Background()
	for task := range n.taskC {
		_ = limiter.Wait(ctx)

		_, _, err := n.client.PostMessageContext(ctx, task.Channel, task.Opts...)
		if err != nil {
			log.WithError(err).
				WithField("channel", task.Channel).
				Errorf("slack api error: %s", err.Error())
		}
	}
}

func (n *SlackNotifier) Notify(format string, args ...interface{}) {
	n.enqueue(slackTask{
		Channel: n.channel,
		Opts:    []slack.MsgOption{slack.MsgOptionText(fmt.Sprintf(format, args...), true)},
	})
}

func (n *SlackNotifier) Alert(code string, format string, args ...interface{}) {
	attachment := slack.Attachment{
		Color:  "danger",
		Title:  code,
		Text:   fmt.Sprintf(format, args...),
		Footer: time.Now().Format(time.RFC822),
	}

	n.enqueue(slackTask{
		Channel: n.alertChannel,
		Opts:    []slack.MsgOption{slack.MsgOptionAttachments(attachment)},
	})
}

func (n *SlackNotifier) enqueue(task slackTask) {
	select {
	case n.taskC <- task:
	case <-time.After(50 * time.Millisecond):
		log.Warnf("slack notify queue is full, dropping message to %s", task.Channel)
	}
}
