// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"fmt"

	"savings_circle/internal/domain/notification"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Sender is the part of the bot the notifier needs.
type Sender interface {
	SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error
}

// TelebotAdapter implements Sender using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the specified recipient.
func (tba *TelebotAdapter) SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error {
	if options == nil {
		options = &telebot.SendOptions{}
	}

	recipient := &telebot.User{ID: recipientChatID} // members talk to the bot in a private chat
	_, err := tba.bot.Send(recipient, text, options)
	return err
}

// Notifier delivers engine notices as direct messages.
type Notifier struct {
	client Sender
	logger *logrus.Entry
}

func NewNotifier(client Sender, logger *logrus.Entry) *Notifier {
	return &Notifier{client: client, logger: logger}
}

func (n *Notifier) Notify(_ context.Context, notice notification.Notice) error {
	text := FormatNotice(notice)
	if err := n.client.SendMessage(notice.UserID, text, nil); err != nil {
		n.logger.WithFields(logrus.Fields{
			"user_id":      notice.UserID,
			"community_id": notice.CommunityID,
			"kind":         notice.Kind,
		}).WithError(err).Warn("Failed to deliver notice")
		return fmt.Errorf("failed to send %s notice to user %d: %w", notice.Kind, notice.UserID, err)
	}
	return nil
}

var noticeTitles = map[notification.Kind]string{
	notification.KindPayout:       "Payout",
	notification.KindPenalty:      "Penalty",
	notification.KindDebt:         "Outstanding debt",
	notification.KindWalletFrozen: "Wallet frozen",
	notification.KindReminder:     "Reminder",
	notification.KindCycleStarted: "New cycle",
	notification.KindTurnStarted:  "New turn",
	notification.KindTurnReady:    "Turn ready",
	notification.KindMemberJoined: "Welcome",
}

// FormatNotice renders a notice as a chat message.
func FormatNotice(notice notification.Notice) string {
	title, ok := noticeTitles[notice.Kind]
	if !ok {
		title = string(notice.Kind)
	}
	return fmt.Sprintf("[%s] Circle #%d\n%s", title, notice.CommunityID, notice.Message)
}
