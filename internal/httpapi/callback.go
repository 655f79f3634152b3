package httpapi

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// completionTimeout bounds the token exchange and the follow-up setup
// prompts triggered by a new credential.
const completionTimeout = 30 * time.Second

var resultPage = template.Must(template.New("result").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>pagewatch</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em">
<h2>{{.Title}}</h2>
<p>{{.Body}}</p>
{{if .BotURL}}<p><a href="{{.BotURL}}">Back to Telegram</a></p>{{end}}
</body></html>
`))

type resultData struct {
	Title  string
	Body   string
	BotURL string
}

type callback struct {
	auth        Authorizer
	credentials CredentialReceiver
	botURL      string
	log         zerolog.Logger
}

func (c *callback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if reason := q.Get("error"); reason != "" {
		c.log.Info().Str("reason", reason).Msg("authorization declined")
		c.render(w, http.StatusBadRequest, "Not connected", "The authorization was cancelled. You can try again from the chat.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), completionTimeout)
	defer cancel()

	subjectID, credential, err := c.auth.Complete(ctx, q.Get("code"), q.Get("state"))
	if err != nil {
		c.log.Warn().Err(err).Msg("authorization failed")
		c.render(w, http.StatusBadRequest, "Not connected", "This link is invalid or expired. Please request a new one from the chat.")
		return
	}

	if err := c.credentials.CredentialObtained(ctx, subjectID, credential); err != nil {
		c.log.Error().Err(err).Int64("subject_id", subjectID).Msg("failed to store credential")
		c.render(w, http.StatusInternalServerError, "Not connected", "Something went wrong on our side. Please try again.")
		return
	}

	c.render(w, http.StatusOK, "Connected ✅", "Your Notion workspace is connected. Head back to the chat to finish setting up.")
}

func (c *callback) render(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := resultPage.Execute(w, resultData{Title: title, Body: body, BotURL: c.botURL}); err != nil {
		c.log.Debug().Err(err).Msg("failed to render callback page")
	}
}
