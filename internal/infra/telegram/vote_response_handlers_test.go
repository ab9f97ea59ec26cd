package telegram

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBallotCallbackRoundTrip(t *testing.T) {
	voteID := uuid.NewString()
	markup := ballotMarkup(7, voteID)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 2)

	yes := markup.InlineKeyboard[0][0].Data
	cid, id, approve, err := parseBallotCallback(yes)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cid)
	assert.Equal(t, voteID, id)
	assert.True(t, approve)

	_, _, approve, err = parseBallotCallback(markup.InlineKeyboard[0][1].Data)
	require.NoError(t, err)
	assert.False(t, approve)

	// Telegram callback data is limited to 64 bytes.
	assert.LessOrEqual(t, len(yes), 64)
}

func TestParseBallotCallbackRejectsGarbage(t *testing.T) {
	for _, data := range []string{"", "confirm_1", "vy_", "vy_abc_" + uuid.NewString(), "vn_0_x"} {
		_, _, _, err := parseBallotCallback(data)
		assert.Error(t, err, data)
	}
}
