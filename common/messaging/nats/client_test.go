package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
	assert.NotEmpty(t, cfg.Name)
}

func TestConfigOptions(t *testing.T) {
	base := len(DefaultConfig().options())

	withUser := DefaultConfig()
	withUser.Username = "svc"
	withUser.Password = "secret"
	assert.Len(t, withUser.options(), base+1)

	userOnly := DefaultConfig()
	userOnly.Username = "svc"
	assert.Len(t, userOnly.options(), base, "credentials require both username and password")

	withToken := DefaultConfig()
	withToken.Token = "t0k3n"
	assert.Len(t, withToken.options(), base+1)
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestPayInAdvanceFeesStream(t *testing.T) {
	assert.Equal(t, jetstream.WorkQueuePolicy, PayInAdvanceFeesStream.Retention)
	assert.Contains(t, PayInAdvanceFeesStream.Subjects, "billing.fees.>")
	assert.Positive(t, PayInAdvanceFeesStream.Duplicates)
}

func TestClient_IsConnected_Nil(t *testing.T) {
	c := &Client{}
	assert.False(t, c.IsConnected())
}
