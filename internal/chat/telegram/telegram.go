// Package telegram connects the chat package to the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-bot/internal/chat"
)

// Bot sends chat.Outbound messages and turns updates into chat.Inbound.
type Bot struct {
	api *tgbotapi.BotAPI
	log *log.Logger
}

// New logs into the Bot API with token.
func New(token string, logger *log.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	logger.Infof("authorized as @%s", api.Self.UserName)
	return &Bot{api: api, log: logger}, nil
}

// Send delivers the text with its buttons, then every attachment.  The
// returned reference points at the text message.
func (b *Bot) Send(_ context.Context, out chat.Outbound) (string, error) {
	chatID, err := chat.ChatID(out.SessionID)
	if err != nil {
		return "", fmt.Errorf("session %q: %w", out.SessionID, err)
	}
	var ref string
	if out.Text != "" || len(out.Options) > 0 {
		msg := tgbotapi.NewMessage(chatID, out.Text)
		if len(out.Options) > 0 {
			msg.ReplyMarkup = Keyboard(out.Options)
		}
		sent, err := b.api.Send(msg)
		if err != nil {
			return "", err
		}
		ref = Ref(chatID, sent.MessageID)
	}
	for _, a := range out.Attachments {
		if _, err := b.api.Send(attachmentConfig(chatID, a)); err != nil {
			return ref, fmt.Errorf("send %s: %w", a.Name, err)
		}
	}
	return ref, nil
}

func attachmentConfig(chatID int64, a chat.Attachment) tgbotapi.Chattable {
	var file tgbotapi.RequestFileData = tgbotapi.FileID(a.FileID)
	if a.Data != nil {
		file = tgbotapi.FileBytes{Name: a.Name, Bytes: a.Data}
	}
	if a.IsImage() {
		return tgbotapi.NewPhoto(chatID, file)
	}
	return tgbotapi.NewDocument(chatID, file)
}

// ClearControls removes the inline keyboard of a sent message.
func (b *Bot) ClearControls(_ context.Context, messageRef string) error {
	chatID, msgID, err := ParseRef(messageRef)
	if err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, msgID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, err = b.api.Request(edit)
	return err
}

// Run long-polls for updates and hands each one to handle until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context, handle func(chat.Inbound)) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)
	defer b.api.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.CallbackQuery != nil {
				// Stop the client spinner; the answer text is not shown.
				if _, err := b.api.Request(tgbotapi.NewCallback(u.CallbackQuery.ID, "")); err != nil {
					b.log.Debugf("answer callback: %v", err)
				}
			}
			if in, ok := ToInbound(u); ok {
				handle(in)
			}
		}
	}
}

// Keyboard lays out one button per row.
func Keyboard(opts []chat.Option) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(opts))
	for _, o := range opts {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(o.Label, o.Value)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ToInbound converts a text message, a file message or a button press.
// Other updates are ignored.
func ToInbound(u tgbotapi.Update) (chat.Inbound, bool) {
	if q := u.CallbackQuery; q != nil && q.Message != nil && q.Message.Chat != nil {
		in := chat.Inbound{
			SessionID:  chat.SessionID(q.Message.Chat.ID),
			Kind:       chat.KindButton,
			Payload:    q.Data,
			MessageRef: Ref(q.Message.Chat.ID, q.Message.MessageID),
			Timestamp:  time.Now().UTC(),
		}
		if q.From != nil {
			in.UserID = q.From.ID
		}
		return in, true
	}
	m := u.Message
	if m == nil || m.Chat == nil {
		return chat.Inbound{}, false
	}
	in := chat.Inbound{
		SessionID:  chat.SessionID(m.Chat.ID),
		MessageRef: Ref(m.Chat.ID, m.MessageID),
		Timestamp:  time.Unix(int64(m.Date), 0).UTC(),
	}
	if m.From != nil {
		in.UserID = m.From.ID
	}
	switch {
	case m.Document != nil:
		in.Kind = chat.KindAttachment
		in.Payload = m.Caption
		in.Attachment = &chat.Attachment{FileID: m.Document.FileID, Name: m.Document.FileName, MIME: m.Document.MimeType}
	case len(m.Photo) > 0:
		// The last size is the largest.
		p := m.Photo[len(m.Photo)-1]
		in.Kind = chat.KindAttachment
		in.Payload = m.Caption
		in.Attachment = &chat.Attachment{FileID: p.FileID, Name: "photo.jpg", MIME: "image/jpeg"}
	case strings.TrimSpace(m.Text) != "":
		in.Kind = chat.KindText
		in.Payload = strings.TrimSpace(m.Text)
	default:
		return chat.Inbound{}, false
	}
	return in, true
}

// Ref encodes a message reference.
func Ref(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}

// ParseRef decodes a message reference.
func ParseRef(ref string) (int64, int, error) {
	c, m, ok := strings.Cut(ref, ":")
	if !ok {
		return 0, 0, fmt.Errorf("bad message ref %q", ref)
	}
	chatID, err := strconv.ParseInt(c, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad message ref %q: %w", ref, err)
	}
	msgID, err := strconv.Atoi(m)
	if err != nil {
		return 0, 0, fmt.Errorf("bad message ref %q: %w", ref, err)
	}
	return chatID, msgID, nil
}
