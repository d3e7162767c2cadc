package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumebot/internal/ports"
)

type mockLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func (l *mockLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warns
}

type mockChannel struct {
	mu       sync.Mutex
	name     string
	err      error
	messages []string
	levels   []ports.NotifyLevel
	done     chan struct{}
}

func newMockChannel(name string, err error) *mockChannel {
	return &mockChannel{name: name, err: err, done: make(chan struct{}, 16)}
}

func (c *mockChannel) Name() string { return c.name }

func (c *mockChannel) Send(ctx context.Context, message string, level ports.NotifyLevel) error {
	c.mu.Lock()
	c.messages = append(c.messages, message)
	c.levels = append(c.levels, level)
	c.mu.Unlock()
	c.done <- struct{}{}
	return c.err
}

func waitFor(t *testing.T, ch *mockChannel) {
	t.Helper()
	select {
	case <-ch.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("channel %s never received the notification", ch.name)
	}
}

func TestMulti_FansOutToAllChannels(t *testing.T) {
	a := newMockChannel("a", nil)
	b := newMockChannel("b", nil)
	m := NewMulti(&mockLogger{}, a, b)

	m.Notify(context.Background(), "position closed", ports.NotifyInfo)
	waitFor(t, a)
	waitFor(t, b)

	assert.Equal(t, []string{"position closed"}, a.messages)
	assert.Equal(t, []string{"position closed"}, b.messages)
	assert.Equal(t, ports.NotifyInfo, a.levels[0])
}

func TestMulti_FailureIsLoggedNotPropagated(t *testing.T) {
	logger := &mockLogger{}
	bad := newMockChannel("bad", errors.New("webhook gone"))
	good := newMockChannel("good", nil)
	m := NewMulti(logger, bad, good)

	m.Notify(context.Background(), "stop loss hit", ports.NotifyError)
	waitFor(t, bad)
	waitFor(t, good)

	require.Eventually(t, func() bool { return logger.warnCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"stop loss hit"}, good.messages)
}

func TestMulti_NoChannelsIsNoop(t *testing.T) {
	m := NewMulti(&mockLogger{})
	m.Notify(context.Background(), "anything", ports.NotifyInfo)
}

func TestDiscord_SendsEmbedWithLevelColor(t *testing.T) {
	var mu sync.Mutex
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		require.NoError(t, json.Unmarshal(body, &got))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	err := d.Send(context.Background(), "entered 10 positions", ports.NotifyError)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "entered 10 positions", got.Embeds[0].Description)
	assert.Equal(t, colorError, got.Embeds[0].Color)
}

func TestDiscord_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	err := d.Send(context.Background(), "msg", ports.NotifyInfo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
