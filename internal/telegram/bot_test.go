package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/pagewatch/internal/core/chat"
)

type fakeAPI struct {
	mu    sync.Mutex
	calls map[string][]map[string]string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	params := make(map[string]string)
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}

	f.mu.Lock()
	f.calls[method] = append(f.calls[method], params)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":999,"is_bot":true,"first_name":"pw","username":"pagewatch_bot"}}`))
	case "sendMessage", "editMessageText":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":55,"date":0,"chat":{"id":7,"type":"private"}}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}
}

func newTestBot(t *testing.T) (*Bot, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{calls: make(map[string][]map[string]string)}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	bot, err := New("TOKEN", WithEndpoint(srv.URL+"/bot%s/%s"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return bot, api
}

func TestBot_Username(t *testing.T) {
	bot, _ := newTestBot(t)
	assert.Equal(t, "pagewatch_bot", bot.Username())
}

func TestBot_DeliverInlineKeyboard(t *testing.T) {
	bot, api := newTestBot(t)

	id, err := bot.Deliver(context.Background(), 7, chat.Message{
		Text: "<b>hi</b>",
		HTML: true,
		Buttons: [][]chat.Button{
			{{Text: "Connect", URL: "https://connect.test"}},
			{{Text: "Done", Data: "fld:done"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 55, id)

	require.Len(t, api.calls["sendMessage"], 1)
	params := api.calls["sendMessage"][0]
	assert.Equal(t, "7", params["chat_id"])
	assert.Equal(t, "HTML", params["parse_mode"])

	var markup struct {
		InlineKeyboard [][]map[string]string `json:"inline_keyboard"`
	}
	require.NoError(t, json.Unmarshal([]byte(params["reply_markup"]), &markup))
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "https://connect.test", markup.InlineKeyboard[0][0]["url"])
	assert.Equal(t, "fld:done", markup.InlineKeyboard[1][0]["callback_data"])
}

func TestBot_DeliverReplyKeyboard(t *testing.T) {
	bot, api := newTestBot(t)

	_, err := bot.Deliver(context.Background(), 7, chat.Message{Text: "ok", Keyboard: []string{"Pause notifications"}})
	require.NoError(t, err)

	params := api.calls["sendMessage"][0]
	assert.Contains(t, params["reply_markup"], `"keyboard":[[{"text":"Pause notifications"`)
	assert.Contains(t, params["reply_markup"], `"resize_keyboard":true`)
}

func TestBot_EditDeleteAnswer(t *testing.T) {
	bot, api := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, bot.Edit(ctx, 7, 55, chat.Message{Text: "new", Buttons: [][]chat.Button{{{Text: "x", Data: "y"}}}}))
	require.NoError(t, bot.Delete(ctx, 7, 55))
	require.NoError(t, bot.AnswerCallback(ctx, "cb", ""))

	assert.Equal(t, "55", api.calls["editMessageText"][0]["message_id"])
	assert.Equal(t, "55", api.calls["deleteMessage"][0]["message_id"])
	assert.Equal(t, "cb", api.calls["answerCallbackQuery"][0]["callback_query_id"])
}
