package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhook(t *testing.T, status int) (*httptest.Server, chan DiscordMessage) {
	t.Helper()
	received := make(chan DiscordMessage, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg DiscordMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		received <- msg
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, received
}

func TestSendDiscordErrorNotification(t *testing.T) {
	server, received := webhook(t, http.StatusNoContent)
	t.Setenv("DISCORD_ERROR_NOTIFICATION_URL", server.URL)

	require.NoError(t, SendDiscordErrorNotification("train failed"))
	msg := <-received
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, colorRed, msg.Embeds[0].Color)
	assert.Contains(t, msg.Embeds[0].Description, "train failed")
}

func TestSendDiscordWarnAndSuccess(t *testing.T) {
	server, received := webhook(t, http.StatusOK)
	t.Setenv("DISCORD_WARN_NOTIFICATION_URL", server.URL)
	t.Setenv("DISCORD_SUCCESS_NOTIFICATION_URL", server.URL)

	require.NoError(t, SendDiscordWarnNotification("no MODIS dates"))
	assert.Equal(t, colorYellow, (<-received).Embeds[0].Color)

	require.NoError(t, SendDiscordSuccessNotification("model saved"))
	assert.Equal(t, "model saved", (<-received).Embeds[0].Description)
}

func TestSendDiscordRejected(t *testing.T) {
	server, _ := webhook(t, http.StatusBadRequest)
	t.Setenv("DISCORD_ERROR_NOTIFICATION_URL", server.URL)

	assert.ErrorContains(t, SendDiscordErrorNotification("x"), "status code: 400")
}

func TestSendDiscordWithoutWebhook(t *testing.T) {
	t.Setenv("DISCORD_ERROR_NOTIFICATION_URL", "")
	assert.NoError(t, SendDiscordErrorNotification("ignored"))
}
