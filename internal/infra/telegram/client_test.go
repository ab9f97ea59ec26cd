package telegram

import (
	"context"
	"errors"
	"io"
	"testing"

	"savings_circle/internal/domain/notification"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendMessage(chatID int64, text string, _ *telebot.SendOptions) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestNotifierSendsFormattedNotice(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, quietLogger())

	err := n.Notify(context.Background(), notification.Notice{
		UserID:      42,
		CommunityID: 3,
		Kind:        notification.KindPayout,
		Message:     "You received 81.00 from Neighbours.",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].chatID)
	assert.Equal(t, "[Payout] Circle #3\nYou received 81.00 from Neighbours.", sender.sent[0].text)
}

func TestNotifierReportsFailures(t *testing.T) {
	sender := &fakeSender{err: errors.New("bot was blocked by the user")}
	n := NewNotifier(sender, quietLogger())

	err := n.Notify(context.Background(), notification.Notice{UserID: 42, Kind: notification.KindPenalty})
	require.Error(t, err)
	assert.ErrorContains(t, err, "blocked")
	assert.ErrorContains(t, err, "PENALTY")
}

func TestFormatNoticeUnknownKind(t *testing.T) {
	out := FormatNotice(notification.Notice{CommunityID: 1, Kind: notification.Kind("CUSTOM"), Message: "hi"})
	assert.Equal(t, "[CUSTOM] Circle #1\nhi", out)
}
