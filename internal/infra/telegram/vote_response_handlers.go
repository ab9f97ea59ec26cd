// internal/infra/telegram/vote_response_handlers.go
package telegram

import (
	"context"
	"fmt"
	"strings"

	"savings_circle/internal/app"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	ballotYesPrefix = "vy_"
	ballotNoPrefix  = "vn_"
)

// ballotMarkup builds the inline yes/no keyboard attached to a proposal.
// Callback data is vy_<circle>_<vote-id> or vn_<circle>_<vote-id>.
func ballotMarkup(communityID int64, voteID string) *telebot.ReplyMarkup {
	suffix := fmt.Sprintf("%d_%s", communityID, voteID)
	return &telebot.ReplyMarkup{InlineKeyboard: [][]telebot.InlineButton{{
		{Text: "Yes", Data: ballotYesPrefix + suffix},
		{Text: "No", Data: ballotNoPrefix + suffix},
	}}}
}

// parseBallotCallback splits callback data produced by ballotMarkup.
func parseBallotCallback(data string) (communityID int64, voteID string, approve bool, err error) {
	switch {
	case strings.HasPrefix(data, ballotYesPrefix):
		approve = true
		data = strings.TrimPrefix(data, ballotYesPrefix)
	case strings.HasPrefix(data, ballotNoPrefix):
		data = strings.TrimPrefix(data, ballotNoPrefix)
	default:
		return 0, "", false, fmt.Errorf("unknown callback data %q", data)
	}
	parts := strings.SplitN(data, "_", 2)
	if len(parts) != 2 {
		return 0, "", false, fmt.Errorf("invalid ballot callback data %q", data)
	}
	communityID, err = parseCommunityID(parts[0])
	if err != nil {
		return 0, "", false, err
	}
	return communityID, parts[1], approve, nil
}

func castBallot(ctx context.Context, engine *app.Engine, communityID int64, rawVoteID string, userID int64, approve bool) (string, error) {
	voteID, err := uuid.Parse(rawVoteID)
	if err != nil {
		return fmt.Sprintf("Error: invalid vote id %q.", rawVoteID), err
	}
	vote, err := engine.CastVote(ctx, communityID, voteID, userID, approve)
	if err != nil {
		return replyForError(err), err
	}
	ballot := "no"
	if approve {
		ballot = "yes"
	}
	return fmt.Sprintf("Your %s vote on %s = %s is recorded (%d approvals so far).", ballot, vote.Setting, vote.Value, vote.Approvals()), nil
}

// RegisterVoteResponseHandlers handles the inline ballot buttons.
func RegisterVoteResponseHandlers(ctx context.Context, b *telebot.Bot, engine *app.Engine, baseLogger *logrus.Entry) {
	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		data := c.Callback().Data
		logCtx := baseLogger.WithFields(logrus.Fields{"handler": "ballot_callback", "sender_id": c.Sender().ID})

		communityID, voteID, approve, err := parseBallotCallback(data)
		if err != nil {
			c.Bot().OnError(fmt.Errorf("unhandled callback data by vote_response_handler: %w", err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Unknown action."})
		}

		reply, err := castBallot(ctx, engine, communityID, voteID, c.Sender().ID, approve)
		if err != nil {
			logCtx.WithError(err).WithField("community_id", communityID).Warn("Ballot rejected")
			return c.Respond(&telebot.CallbackResponse{Text: reply})
		}
		logCtx.WithFields(logrus.Fields{"community_id": communityID, "vote_id": voteID, "approve": approve}).Info("Ballot cast")
		return c.Respond(&telebot.CallbackResponse{Text: reply})
	})
}
