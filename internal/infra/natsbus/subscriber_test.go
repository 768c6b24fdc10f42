package natsbus_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiaoi/internal/domain"
	"xiaoi/internal/infra/natsbus"
)

type fakeSpeaker struct {
	mu     sync.Mutex
	texts  []string
	volume int
}

func (f *fakeSpeaker) TTS(_ context.Context, text, _ string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyText
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSpeaker) PlayAudio(_ context.Context, url, _ string) (any, error) {
	if url == "" {
		return nil, domain.ErrEmptyURL
	}
	return map[string]any{"code": 0}, nil
}

func (f *fakeSpeaker) SetVolume(_ context.Context, volume int, _ string) (any, error) {
	if volume < 0 || volume > 100 {
		return nil, domain.ErrInvalidVolume
	}
	f.mu.Lock()
	f.volume = volume
	f.mu.Unlock()
	return true, nil
}

func (f *fakeSpeaker) DoAction(_ context.Context, siid, aiid int, _ any, _ string) (any, error) {
	return []int{siid, aiid}, nil
}

func startBus(t *testing.T, speaker natsbus.Speaker) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)
	t.Cleanup(server.Shutdown)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn, err := natsbus.Connect(server.ClientURL(), logger)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	sub := natsbus.NewSubscriber(conn, "xiaoi", speaker, logger)
	require.NoError(t, sub.Start())
	t.Cleanup(func() { sub.Stop() })

	client, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func request(t *testing.T, client *nats.Conn, subject, body string) natsbus.Reply {
	t.Helper()
	msg, err := client.Request(subject, []byte(body), 2*time.Second)
	require.NoError(t, err)

	var reply natsbus.Reply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	return reply
}

func TestSubscriber_TTS(t *testing.T) {
	speaker := &fakeSpeaker{}
	client := startBus(t, speaker)

	reply := request(t, client, "xiaoi.tts", `{"text":"dinner is ready"}`)

	assert.True(t, reply.Success)
	assert.Empty(t, reply.Error)
	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	assert.Equal(t, []string{"dinner is ready"}, speaker.texts)
}

func TestSubscriber_Volume(t *testing.T) {
	speaker := &fakeSpeaker{}
	client := startBus(t, speaker)

	reply := request(t, client, "xiaoi.volume", `{"volume":35}`)
	assert.True(t, reply.Success)

	reply = request(t, client, "xiaoi.volume", `{}`)
	assert.False(t, reply.Success)
	assert.Contains(t, reply.Error, "volume")
}

func TestSubscriber_Command(t *testing.T) {
	client := startBus(t, &fakeSpeaker{})

	reply := request(t, client, "xiaoi.command", `{"siid":5,"aiid":3,"params":"hi"}`)
	assert.True(t, reply.Success)
	assert.Equal(t, []any{float64(5), float64(3)}, reply.Result)

	reply = request(t, client, "xiaoi.command", `{"siid":5}`)
	assert.False(t, reply.Success)
}

func TestSubscriber_BadPayload(t *testing.T) {
	client := startBus(t, &fakeSpeaker{})

	reply := request(t, client, "xiaoi.audio", `not json`)

	assert.False(t, reply.Success)
	assert.Contains(t, reply.Error, "invalid JSON payload")
}

func TestSubscriber_FireAndForget(t *testing.T) {
	speaker := &fakeSpeaker{}
	client := startBus(t, speaker)

	require.NoError(t, client.Publish("xiaoi.tts", []byte(`{"text":"no reply wanted"}`)))
	require.NoError(t, client.Flush())

	assert.Eventually(t, func() bool {
		speaker.mu.Lock()
		defer speaker.mu.Unlock()
		return len(speaker.texts) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
