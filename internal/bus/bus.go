// Package bus publishes completed call turns to NATS.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	orchestration "github.com/koscakluka/ema-call/core"
	"github.com/koscakluka/ema-call/internal/config"
	"github.com/nats-io/nats.go"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// TurnPublisher sends every completed turn to a subject as JSON.
type TurnPublisher struct {
	conn    *nats.Conn
	pub     publisher
	subject string
	log     *slog.Logger
}

func Connect(cfg config.BusConfig, log *slog.Logger) (*TurnPublisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("ema-call"),
		nats.Timeout(cfg.ConnectTimeout()),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url), slog.String("subject", cfg.Subject))

	p := newTurnPublisher(conn, cfg.Subject, log)
	p.conn = conn
	return p, nil
}

func newTurnPublisher(pub publisher, subject string, log *slog.Logger) *TurnPublisher {
	return &TurnPublisher{pub: pub, subject: subject, log: log}
}

func (p *TurnPublisher) Publish(turn orchestration.CompletedTurn) error {
	data, err := json.Marshal(newTurnMessage(turn))
	if err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}
	if err := p.pub.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish turn: %w", err)
	}
	return nil
}

// Hook adapts the publisher to orchestration.WithTurnCompletedHook.
// Publish failures are logged, never returned to the session.
func (p *TurnPublisher) Hook(_ context.Context, turn orchestration.CompletedTurn) {
	if p == nil {
		return
	}
	if err := p.Publish(turn); err != nil {
		p.log.Warn("failed to publish completed turn",
			slog.String("session_id", turn.SessionID),
			slog.String("request_id", turn.RequestID),
			slog.String("error", err.Error()))
	}
}

func (p *TurnPublisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

func (p *TurnPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.log.Info("closing NATS connection")
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

type turnMessage struct {
	SessionID      string             `json:"sessionId"`
	RequestID      string             `json:"requestId"`
	UserText       string             `json:"userText"`
	Response       string             `json:"response"`
	Outcome        string             `json:"outcome"`
	AudioFragments int                `json:"audioFragments"`
	LatencyMS      map[string]float64 `json:"latencyMs"`
	CompletedAt    int64              `json:"completedAt"`
}

func newTurnMessage(turn orchestration.CompletedTurn) turnMessage {
	latency := make(map[string]float64, len(turn.Latency))
	for stage, duration := range turn.Latency {
		latency[stage] = float64(duration.Microseconds()) / 1000
	}
	return turnMessage{
		SessionID:      turn.SessionID,
		RequestID:      turn.RequestID,
		UserText:       turn.UserText,
		Response:       turn.Response,
		Outcome:        string(turn.Outcome),
		AudioFragments: turn.AudioFragments,
		LatencyMS:      latency,
		CompletedAt:    turn.CompletedAt.UnixMilli(),
	}
}
