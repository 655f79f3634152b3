package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"

	"github.com/hay-kot/pagewatch/internal/core/chat"
)

const botID int64 = 999

var (
	user    = &tgbotapi.User{ID: 7, FirstName: "Ada"}
	private = &tgbotapi.Chat{ID: 7, Type: "private"}
	team    = &tgbotapi.Chat{ID: -100, Type: "supergroup", Title: "Team"}
)

func commandMessage(text string, c *tgbotapi.Chat) *tgbotapi.Message {
	cmdLen := len(text)
	for i, r := range text {
		if r == ' ' {
			cmdLen = i
			break
		}
	}
	return &tgbotapi.Message{
		MessageID: 3,
		From:      user,
		Chat:      c,
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

func TestToAction(t *testing.T) {
	tests := []struct {
		name   string
		update tgbotapi.Update
		want   chat.Action
		ok     bool
	}{
		{
			name:   "command",
			update: tgbotapi.Update{UpdateID: 1, Message: commandMessage("/Start hello", private)},
			want: chat.Action{
				UpdateID: 1, Kind: chat.ActionCommand, SubjectID: 7, ChatID: 7, ChatType: chat.ChatPrivate,
				MessageID: 3, Command: "start", Args: "hello",
			},
			ok: true,
		},
		{
			name:   "command addressed to bot in group",
			update: tgbotapi.Update{UpdateID: 2, Message: commandMessage("/status@pagewatch_bot", team)},
			want: chat.Action{
				UpdateID: 2, Kind: chat.ActionCommand, SubjectID: 7, ChatID: -100, ChatType: chat.ChatGroup,
				MessageID: 3, Command: "status", ChatTitle: "Team",
			},
			ok: true,
		},
		{
			name: "text",
			update: tgbotapi.Update{UpdateID: 3, Message: &tgbotapi.Message{
				MessageID: 4, From: user, Chat: private, Text: "Pause notifications",
			}},
			want: chat.Action{
				UpdateID: 3, Kind: chat.ActionText, SubjectID: 7, ChatID: 7, ChatType: chat.ChatPrivate,
				MessageID: 4, Text: "Pause notifications",
			},
			ok: true,
		},
		{
			name: "button",
			update: tgbotapi.Update{UpdateID: 4, CallbackQuery: &tgbotapi.CallbackQuery{
				ID: "cb", From: user, Data: "db:1",
				Message: &tgbotapi.Message{MessageID: 10, Chat: private},
			}},
			want: chat.Action{
				UpdateID: 4, Kind: chat.ActionButton, SubjectID: 7, ChatID: 7, ChatType: chat.ChatPrivate,
				MessageID: 10, Data: "db:1", CallbackID: "cb",
			},
			ok: true,
		},
		{
			name: "bot added to group",
			update: tgbotapi.Update{UpdateID: 5, MyChatMember: &tgbotapi.ChatMemberUpdated{
				Chat:          *team,
				From:          *user,
				OldChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: botID}, Status: "left"},
				NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: botID}, Status: "member"},
			}},
			want: chat.Action{
				UpdateID: 5, Kind: chat.ActionGroupJoin, SubjectID: 7, ChatID: -100, ChatType: chat.ChatGroup,
				ChatTitle: "Team",
			},
			ok: true,
		},
		{
			name: "bot removed from group",
			update: tgbotapi.Update{UpdateID: 6, MyChatMember: &tgbotapi.ChatMemberUpdated{
				Chat:          *team,
				From:          *user,
				OldChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: botID}, Status: "member"},
				NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: botID}, Status: "left"},
			}},
		},
		{
			name: "promoted in group",
			update: tgbotapi.Update{UpdateID: 7, MyChatMember: &tgbotapi.ChatMemberUpdated{
				Chat:          *team,
				From:          *user,
				OldChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: botID}, Status: "member"},
				NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: botID}, Status: "administrator"},
			}},
		},
		{
			name: "sticker",
			update: tgbotapi.Update{UpdateID: 8, Message: &tgbotapi.Message{
				MessageID: 5, From: user, Chat: private,
			}},
		},
		{
			name:   "channel post",
			update: tgbotapi.Update{UpdateID: 9, ChannelPost: &tgbotapi.Message{Text: "hi"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToAction(tt.update, botID)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
