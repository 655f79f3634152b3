package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hay-kot/pagewatch/internal/core/chat"
)

// ToAction converts an update into an action. Updates the bot does not
// act on return false. botID identifies membership changes of the bot
// itself.
func ToAction(u tgbotapi.Update, botID int64) (chat.Action, bool) {
	base := chat.Action{UpdateID: int64(u.UpdateID)}

	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.From == nil || q.Message == nil || q.Message.Chat == nil {
			return chat.Action{}, false
		}
		base.Kind = chat.ActionButton
		base.SubjectID = q.From.ID
		base.ChatID = q.Message.Chat.ID
		base.ChatType = chatType(q.Message.Chat)
		base.MessageID = q.Message.MessageID
		base.Data = q.Data
		base.CallbackID = q.ID
		return base, true

	case u.MyChatMember != nil:
		m := u.MyChatMember
		if m.NewChatMember.User == nil || m.NewChatMember.User.ID != botID {
			return chat.Action{}, false
		}
		if !joined(m.OldChatMember.Status, m.NewChatMember.Status) || m.Chat.IsPrivate() {
			return chat.Action{}, false
		}
		base.Kind = chat.ActionGroupJoin
		base.SubjectID = m.From.ID
		base.ChatID = m.Chat.ID
		base.ChatType = chat.ChatGroup
		base.ChatTitle = m.Chat.Title
		return base, true

	case u.Message != nil:
		msg := u.Message
		if msg.From == nil || msg.Chat == nil {
			return chat.Action{}, false
		}
		base.SubjectID = msg.From.ID
		base.ChatID = msg.Chat.ID
		base.ChatType = chatType(msg.Chat)
		base.MessageID = msg.MessageID
		base.ChatTitle = msg.Chat.Title

		if msg.IsCommand() {
			base.Kind = chat.ActionCommand
			base.Command = strings.ToLower(msg.Command())
			base.Args = msg.CommandArguments()
			return base, true
		}
		if msg.Text == "" {
			return chat.Action{}, false
		}
		base.Kind = chat.ActionText
		base.Text = msg.Text
		return base, true
	}

	return chat.Action{}, false
}

func chatType(c *tgbotapi.Chat) chat.ChatType {
	if c.IsPrivate() {
		return chat.ChatPrivate
	}
	return chat.ChatGroup
}

func joined(oldStatus, newStatus string) bool {
	present := func(s string) bool {
		return s == "member" || s == "administrator" || s == "creator"
	}
	return !present(oldStatus) && present(newStatus)
}
