package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-bot/internal/chat"
)

func TestToInboundText(t *testing.T) {
	in, ok := ToInbound(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 5, Date: 1700000000, Text: "  /start ",
		Chat: &tgbotapi.Chat{ID: 42}, From: &tgbotapi.User{ID: 7},
	}})
	require.True(t, ok)
	assert.Equal(t, "42", in.SessionID)
	assert.Equal(t, int64(7), in.UserID)
	assert.Equal(t, chat.KindText, in.Kind)
	assert.Equal(t, "/start", in.Payload)
	assert.Equal(t, "42:5", in.MessageRef)
	assert.Equal(t, int64(1700000000), in.Timestamp.Unix())
}

func TestToInboundButton(t *testing.T) {
	in, ok := ToInbound(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb", Data: "ticket:3", From: &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: -100}},
	}})
	require.True(t, ok)
	assert.Equal(t, chat.KindButton, in.Kind)
	assert.Equal(t, "ticket:3", in.Payload)
	assert.Equal(t, "-100", in.SessionID)
	assert.Equal(t, "-100:9", in.MessageRef)
}

func TestToInboundAttachments(t *testing.T) {
	in, ok := ToInbound(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 1},
		Document: &tgbotapi.Document{FileID: "doc1", FileName: "receipt.pdf", MimeType: "application/pdf"},
	}})
	require.True(t, ok)
	assert.Equal(t, chat.KindAttachment, in.Kind)
	assert.Equal(t, "doc1", in.Attachment.FileID)

	in, ok = ToInbound(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 1},
		Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "big"}},
	}})
	require.True(t, ok)
	assert.Equal(t, "big", in.Attachment.FileID)
	assert.True(t, in.Attachment.IsImage())

	_, ok = ToInbound(tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}}})
	assert.False(t, ok)
	_, ok = ToInbound(tgbotapi.Update{})
	assert.False(t, ok)
}

func TestKeyboardOneButtonPerRow(t *testing.T) {
	kb := Keyboard([]chat.Option{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}})
	require.Len(t, kb.InlineKeyboard, 2)
	require.NotNil(t, kb.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, "b", *kb.InlineKeyboard[1][0].CallbackData)
}

func TestRefRoundTrip(t *testing.T) {
	c, m, err := ParseRef(Ref(-1001, 77))
	require.NoError(t, err)
	assert.Equal(t, int64(-1001), c)
	assert.Equal(t, 77, m)
	_, _, err = ParseRef("nope")
	assert.Error(t, err)
}
