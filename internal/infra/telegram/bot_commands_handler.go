// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"fmt"
	"strings"

	"savings_circle/internal/app"
	"savings_circle/internal/domain/community"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const helpText = "Savings circle commands:\n\n" +
	"`/create <name> <frequency> <min_contribution> [backup_percent] [penalty] [min_members]`\n - Create a circle; you become its administrator.\n\n" +
	"`/join <circle>`\n - Join a circle.\n\n" +
	"`/contribute <circle> <amount>`\n - Pay into the current turn. Anything above the minimum settles your installment plan.\n\n" +
	"`/installment <circle> <amount>`\n - Pay down your catch-up plan.\n\n" +
	"`/leave <circle>`\n - Leave a circle.\n\n" +
	"`/status <circle>`\n - Show the circle and your standing.\n\n" +
	"`/propose <circle> <setting> <value>`\n - Propose a settings change for the next cycle.\n\n" +
	"`/vote <circle> <vote-id> yes|no`\n - Vote on a proposal.\n\n" +
	"Administrators: `/start_cycle <circle>`, `/payout <circle>`, `/remove_member <circle> <user>`."

// RegisterBotCommands registers the member-facing commands.
func RegisterBotCommands(ctx context.Context, b *telebot.Bot, engine *app.Engine, baseLogger *logrus.Entry) {
	b.Handle("/start", func(c telebot.Context) error {
		baseLogger.WithFields(logrus.Fields{"command": "/start", "sender_id": c.Sender().ID}).Info("Processing /start command")
		return c.Send(fmt.Sprintf("Hi, %s! I run rotating savings circles. Use /help to see the commands.", c.Sender().FirstName))
	})

	b.Handle("/help", func(c telebot.Context) error {
		return c.Send(helpText, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})

	b.Handle("/create", func(c telebot.Context) error {
		logCtx := baseLogger.WithFields(logrus.Fields{"command": "/create", "sender_id": c.Sender().ID})
		args := c.Args()
		if len(args) < 3 {
			return c.Send("Invalid format. Use: /create <name> <frequency> <min_contribution> [backup_percent] [penalty] [min_members]")
		}
		settings, err := parseSettings(args[1:])
		if err != nil {
			logCtx.WithError(err).Warn("Invalid settings")
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		created, err := engine.CreateCommunity(ctx, c.Sender().ID, args[0], settings)
		if err != nil {
			logCtx.WithError(err).Error("Failed to create community")
			return c.Send(replyForError(err))
		}
		logCtx.WithField("community_id", created.ID).Info("Community created")
		return c.Send(fmt.Sprintf("Circle %s created with id %d. Share the id so members can /join.", created.Name, created.ID))
	})

	b.Handle("/join", func(c telebot.Context) error {
		logCtx := baseLogger.WithFields(logrus.Fields{"command": "/join", "sender_id": c.Sender().ID})
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Invalid format. Use: /join <circle>")
		}
		communityID, err := parseCommunityID(args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		logCtx = logCtx.WithField("community_id", communityID)

		member, err := engine.JoinCommunity(ctx, communityID, c.Sender().ID)
		if err != nil {
			logCtx.WithError(err).Warn("Join rejected")
			return c.Send(replyForError(err))
		}
		logCtx.WithField("status", member.Status).Info("Member joined")
		if member.Status == community.MemberWaiting {
			return c.Send("You joined the circle. You will enter the rotation when the next cycle starts.")
		}
		return c.Send("You joined the circle.")
	})

	b.Handle("/leave", func(c telebot.Context) error {
		logCtx := baseLogger.WithFields(logrus.Fields{"command": "/leave", "sender_id": c.Sender().ID})
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Invalid format. Use: /leave <circle>")
		}
		communityID, err := parseCommunityID(args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		if err := engine.LeaveCommunity(ctx, communityID, c.Sender().ID); err != nil {
			logCtx.WithError(err).Warn("Leave rejected")
			return c.Send(replyForError(err))
		}
		logCtx.WithField("community_id", communityID).Info("Member left")
		return c.Send("You left the circle.")
	})

	b.Handle("/contribute", func(c telebot.Context) error {
		logCtx := baseLogger.WithFields(logrus.Fields{"command": "/contribute", "sender_id": c.Sender().ID})
		args := c.Args()
		if len(args) != 2 {
			return c.Send("Invalid format. Use: /contribute <circle> <amount>")
		}
		communityID, err := parseCommunityID(args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		logCtx = logCtx.WithFields(logrus.Fields{"community_id": communityID, "amount": amount.String()})

		contribution, err := engine.Contribute(ctx, communityID, c.Sender().ID, amount)
		if err != nil {
			logCtx.WithError(err).Warn("Contribution rejected")
			return c.Send(replyForError(err))
		}
		logCtx.WithField("contribution_id", contribution.ID).Info("Contribution accepted")
		reply := fmt.Sprintf("Contribution of %s received.", contribution.Amount.StringFixed(2))
		if contribution.Partial != nil {
			reply += fmt.Sprintf(" %s went to your installment plan, %s left.",
				contribution.Partial.InstallmentAmount.StringFixed(2), contribution.Partial.RemainingAfter.StringFixed(2))
		}
		return c.Send(reply)
	})

	b.Handle("/installment", func(c telebot.Context) error {
		logCtx := baseLogger.WithFields(logrus.Fields{"command": "/installment", "sender_id": c.Sender().ID})
		args := c.Args()
		if len(args) != 2 {
			return c.Send("Invalid format. Use: /installment <circle> <amount>")
		}
		communityID, err := parseCommunityID(args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		remaining, err := engine.PayInstallment(ctx, communityID, c.Sender().ID, amount)
		if err != nil {
			logCtx.WithError(err).Warn("Installment rejected")
			return c.Send(replyForError(err))
		}
		if remaining.IsZero() {
			return c.Send("Installment received. Your plan is fully paid.")
		}
		return c.Send(fmt.Sprintf("Installment received. %s left.", remaining.StringFixed(2)))
	})

	b.Handle("/status", func(c telebot.Context) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Invalid format. Use: /status <circle>")
		}
		communityID, err := parseCommunityID(args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		st, err := engine.Snapshot(ctx, communityID)
		if err != nil {
			baseLogger.WithFields(logrus.Fields{"command": "/status", "community_id": communityID}).WithError(err).Warn("Status lookup failed")
			return c.Send(replyForError(err))
		}
		return c.Send(formatStatus(st, c.Sender().ID))
	})

	b.Handle("/propose", func(c telebot.Context) error {
		logCtx := baseLogger.WithFields(logrus.Fields{"command": "/propose", "sender_id": c.Sender().ID})
		args := c.Args()
		if len(args) != 3 {
			return c.Send("Invalid format. Use: /propose <circle> <setting> <value>")
		}
		communityID, err := parseCommunityID(args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		vote, err := engine.ProposeVote(ctx, communityID, c.Sender().ID, community.SettingKey(strings.ToLower(args[1])), args[2])
		if err != nil {
			logCtx.WithError(err).Warn("Proposal rejected")
			return c.Send(replyForError(err))
		}
		logCtx.WithFields(logrus.Fields{"community_id": communityID, "vote_id": vote.ID}).Info("Vote proposed")
		return c.Send(
			fmt.Sprintf("Proposal %s: set %s to %s. Members can vote with the buttons or /vote %d %s yes|no.",
				vote.ID, vote.Setting, vote.Value, communityID, vote.ID),
			&telebot.SendOptions{ReplyMarkup: ballotMarkup(communityID, vote.ID.String())},
		)
	})

	b.Handle("/vote", func(c telebot.Context) error {
		logCtx := baseLogger.WithFields(logrus.Fields{"command": "/vote", "sender_id": c.Sender().ID})
		args := c.Args()
		if len(args) != 3 {
			return c.Send("Invalid format. Use: /vote <circle> <vote-id> yes|no")
		}
		communityID, err := parseCommunityID(args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		approve, err := parseBallot(args[2])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		reply, err := castBallot(ctx, engine, communityID, args[1], c.Sender().ID, approve)
		if err != nil {
			logCtx.WithError(err).Warn("Ballot rejected")
		}
		return c.Send(reply)
	})
}
