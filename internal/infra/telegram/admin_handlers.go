package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"savings_circle/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterAdminHandlers registers the administrator commands. Authorisation is
// checked by the admin service against the circle's administrator.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, baseLogger *logrus.Entry) {
	b.Handle("/start_cycle", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/start_cycle",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Invalid format. Use: /start_cycle <circle>")
		}
		communityID, err := parseCommunityID(args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		handlerLogger = handlerLogger.WithField("community_id", communityID)

		cycle, err := adminService.StartCycle(ctx, c.Sender().ID, communityID)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			if errors.Is(err, app.ErrAdminNotAuthorized) {
				logWithError.Warn("Unauthorized access attempt")
			} else {
				logWithError.Error("Failed to start cycle")
			}
			return c.Send(replyForError(err))
		}

		handlerLogger.WithField("cycle_number", cycle.CycleNumber).Info("Cycle started")
		return c.Send(fmt.Sprintf("Cycle %d started.", cycle.CycleNumber))
	})

	b.Handle("/payout", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/payout",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Invalid format. Use: /payout <circle>")
		}
		communityID, err := parseCommunityID(args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		handlerLogger = handlerLogger.WithField("community_id", communityID)

		res, err := adminService.ForcePayout(ctx, c.Sender().ID, communityID)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			if errors.Is(err, app.ErrAdminNotAuthorized) {
				logWithError.Warn("Unauthorized access attempt")
			} else {
				logWithError.Error("Failed to force payout")
			}
			return c.Send(replyForError(err))
		}

		handlerLogger.WithFields(logrus.Fields{
			"recipient_id": res.RecipientID,
			"net_payout":   res.NetPayout.String(),
		}).Info("Payout forced")
		return c.Send(formatPayoutResult(res))
	})

	b.Handle("/remove_member", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/remove_member",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		args := c.Args()
		if len(args) != 2 {
			return c.Send("Invalid format. Use: /remove_member <circle> <user>")
		}
		communityID, err := parseCommunityID(args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %s", err.Error()))
		}
		userID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			handlerLogger.WithField("arg", args[1]).Warn("Invalid Telegram ID format")
			return c.Send("Error: user id must be a number.")
		}
		handlerLogger = handlerLogger.WithFields(logrus.Fields{"community_id": communityID, "user_id": userID})

		if err := adminService.RemoveMember(ctx, c.Sender().ID, communityID, userID); err != nil {
			logWithError := handlerLogger.WithError(err)
			if errors.Is(err, app.ErrAdminNotAuthorized) {
				logWithError.Warn("Unauthorized access attempt")
			} else {
				logWithError.Warn("Failed to remove member")
			}
			return c.Send(replyForError(err))
		}

		handlerLogger.Info("Member removed")
		return c.Send(fmt.Sprintf("User %d was removed from circle %d. Outstanding penalties stay on record.", userID, communityID))
	})
}

func formatPayoutResult(res *app.PayoutResult) string {
	if res.Redirected {
		return fmt.Sprintf("Recipient %d is no longer active; %s went to the backup fund.", res.RecipientID, res.PayoutAmount.StringFixed(2))
	}
	msg := fmt.Sprintf("Paid %s to user %d", res.NetPayout.StringFixed(2), res.RecipientID)
	if res.PenaltyWithheld.IsPositive() {
		msg += fmt.Sprintf(" (%s withheld for penalties)", res.PenaltyWithheld.StringFixed(2))
	}
	msg += "."
	if res.CycleComplete {
		if res.NextCycleNumber > 0 {
			msg += fmt.Sprintf(" Cycle %d complete, cycle %d started.", res.CycleNumber, res.NextCycleNumber)
		} else {
			msg += fmt.Sprintf(" Cycle %d complete.", res.CycleNumber)
		}
	}
	return msg
}
