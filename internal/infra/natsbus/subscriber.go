package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"xiaoi/internal/domain"
)

const (
	queueGroup     = "xiaoi"
	handleTimeout  = 60 * time.Second
	connectTimeout = 5 * time.Second
)

// Speaker is the part of the core driven by bus messages.
type Speaker interface {
	TTS(ctx context.Context, text, did string) error
	PlayAudio(ctx context.Context, url, did string) (any, error)
	SetVolume(ctx context.Context, volume int, did string) (any, error)
	DoAction(ctx context.Context, siid, aiid int, params any, did string) (any, error)
}

// Connect dials the NATS server and keeps reconnecting in the background.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("xiaoi"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("connected to NATS", "url", url)
	return conn, nil
}

// Subscriber serves speaker requests published on <prefix>.tts,
// <prefix>.audio, <prefix>.volume and <prefix>.command.
type Subscriber struct {
	conn    *nats.Conn
	prefix  string
	speaker Speaker
	logger  *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewSubscriber(conn *nats.Conn, prefix string, speaker Speaker, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		conn:    conn,
		prefix:  prefix,
		speaker: speaker,
		logger:  logger,
	}
}

type Reply struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ttsMessage struct {
	Text string `json:"text"`
	DID  string `json:"did"`
}

type audioMessage struct {
	URL string `json:"url"`
	DID string `json:"did"`
}

type volumeMessage struct {
	Volume *int   `json:"volume"`
	DID    string `json:"did"`
}

type commandMessage struct {
	SIID   *int   `json:"siid"`
	AIID   *int   `json:"aiid"`
	Params any    `json:"params"`
	DID    string `json:"did"`
}

func (s *Subscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.subs) > 0 {
		return nil
	}

	handlers := map[string]func(context.Context, []byte) (any, error){
		"tts":     s.handleTTS,
		"audio":   s.handleAudio,
		"volume":  s.handleVolume,
		"command": s.handleCommand,
	}
	for name, h := range handlers {
		subject := s.prefix + "." + name
		sub, err := s.conn.QueueSubscribe(subject, queueGroup, s.wrap(subject, h))
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.conn.Flush(); err != nil {
		s.unsubscribeLocked()
		return fmt.Errorf("flushing subscriptions: %w", err)
	}

	s.logger.Info("NATS subscriber started", "prefix", s.prefix)
	return nil
}

func (s *Subscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribeLocked()
}

func (s *Subscriber) unsubscribeLocked() error {
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}

func (s *Subscriber) wrap(subject string, h func(context.Context, []byte) (any, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()

		result, err := h(ctx, msg.Data)
		reply := Reply{Success: err == nil, Result: result}
		if err != nil {
			reply.Error = err.Error()
			s.logger.Warn("bus request failed", "subject", subject, "error", err)
		} else {
			s.logger.Info("bus request done", "subject", subject)
		}

		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			s.logger.Error("encoding bus reply", "subject", subject, "error", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Error("publishing bus reply", "subject", subject, "error", err)
		}
	}
}

func (s *Subscriber) handleTTS(ctx context.Context, data []byte) (any, error) {
	var m ttsMessage
	if err := decode(data, &m); err != nil {
		return nil, err
	}
	return nil, s.speaker.TTS(ctx, m.Text, m.DID)
}

func (s *Subscriber) handleAudio(ctx context.Context, data []byte) (any, error) {
	var m audioMessage
	if err := decode(data, &m); err != nil {
		return nil, err
	}
	return s.speaker.PlayAudio(ctx, m.URL, m.DID)
}

func (s *Subscriber) handleVolume(ctx context.Context, data []byte) (any, error) {
	var m volumeMessage
	if err := decode(data, &m); err != nil {
		return nil, err
	}
	if m.Volume == nil {
		return nil, domain.ErrInvalidVolume
	}
	return s.speaker.SetVolume(ctx, *m.Volume, m.DID)
}

func (s *Subscriber) handleCommand(ctx context.Context, data []byte) (any, error) {
	var m commandMessage
	if err := decode(data, &m); err != nil {
		return nil, err
	}
	if m.SIID == nil || m.AIID == nil {
		return nil, &domain.CommandFormatError{Value: "missing siid or aiid"}
	}
	return s.speaker.DoAction(ctx, *m.SIID, *m.AIID, m.Params, m.DID)
}

func decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}
