package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTelegramSendMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("token-123", "chat-42", srv.Client()).WithEndpoint(srv.URL)
	require.NoError(t, tg.SendMessage(context.Background(), "<b>New order</b> #7"))

	require.Equal(t, "/bottoken-123/sendMessage", gotPath)
	require.Equal(t, "chat-42", gotPayload["chat_id"])
	require.Equal(t, "<b>New order</b> #7", gotPayload["text"])
	require.Equal(t, "HTML", gotPayload["parse_mode"])
}

func TestTelegramSendMessageReportsAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat", srv.Client()).WithEndpoint(srv.URL)
	err := tg.SendMessage(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat not found")
}

func TestMailerBuildsAttachment(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	m := NewMailer(SMTPConfig{Host: "mail.test", Port: 2525, From: "reports@meridian.test"})
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	csvData := []byte("page,reason\n0,missing price\n")
	err := m.SendCSV([]string{"ops@meridian.test"}, "Invalid records", "See attachment.", "invalid.csv", csvData)
	require.NoError(t, err)

	require.Equal(t, "mail.test:2525", gotAddr)
	require.Equal(t, "reports@meridian.test", gotFrom)
	require.Equal(t, []string{"ops@meridian.test"}, gotTo)

	text := string(gotMsg)
	require.Contains(t, text, "Subject: Invalid records")
	require.Contains(t, text, `filename="invalid.csv"`)
	require.Contains(t, strings.ReplaceAll(text, "\r\n", ""),
		base64.StdEncoding.EncodeToString(csvData))
}

func TestMailerRequiresRecipients(t *testing.T) {
	m := NewMailer(SMTPConfig{})
	require.Error(t, m.SendCSV(nil, "s", "b", "f.csv", nil))
}
