package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	orchestration "github.com/koscakluka/ema-call/core"
	"github.com/koscakluka/ema-call/core/synthesis"
	"github.com/koscakluka/ema-call/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const writeTimeout = 10 * time.Second

// connection serves one websocket. Reads happen on the handler goroutine
// only; writes come from generation callbacks too and are serialized.
type connection struct {
	server  *Server
	conn    *websocket.Conn
	session *orchestration.Orchestrator
	log     *slog.Logger

	writeMu  sync.Mutex
	chunks   [][]byte
	buffered int
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade websocket", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.maxMessageSize)

	session := s.newSession(uuid.NewString(), s.correlator)
	c := &connection{
		server:  s,
		conn:    conn,
		session: session,
		log:     s.log.With(slog.String("session_id", session.SessionID())),
	}

	if !s.addSession(session) {
		session.Cleanup()
		c.writeEvent(protocol.Error("server is shutting down"))
		return
	}
	defer c.close()

	c.log.Info("client connected")
	c.writeEvent(protocol.Connected(session.SessionID()))
	c.readLoop(r.Context())
}

func (c *connection) readLoop(ctx context.Context) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.writeEvent(protocol.Error("expected a JSON text frame"))
			continue
		}

		event, err := protocol.DecodeClientEvent(data)
		if err != nil {
			c.writeEvent(protocol.Error(err.Error()))
			continue
		}
		c.handle(ctx, event)
	}
}

func (c *connection) handle(ctx context.Context, event protocol.ClientEvent) {
	ctx, span := tracer.Start(ctx, "handle client event", trace.WithAttributes(
		attribute.String("session.id", c.session.SessionID()),
		attribute.String("event.type", event.Type),
	))
	defer span.End()

	switch event.Type {
	case protocol.TypeTranscription:
		c.handleTranscription(ctx, event)
	case protocol.TypeAudioChunk:
		c.handleAudioChunk(ctx, event)
	case protocol.TypeGetMetrics:
		c.writeEvent(protocol.Metrics(c.session.SessionMetrics()))
	default:
		err := errors.New("unhandled event type")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (c *connection) handleTranscription(ctx context.Context, event protocol.ClientEvent) {
	requestID, ok := c.session.OnTranscriptionResult(ctx, orchestration.TranscriptionResult{
		Text:      event.Text,
		IsFinal:   event.IsFinal,
		Timestamp: time.Now(),
	}, c.sendAudio, c.sendText)
	if ok {
		c.log.Debug("transcription accepted", slog.String("request_id", requestID))
	}
}

// handleAudioChunk buffers an utterance until its final chunk. Chunks that
// arrive while a reply is in flight and repeated final chunks are dropped.
func (c *connection) handleAudioChunk(ctx context.Context, event protocol.ClientEvent) {
	if c.session.IsProcessing() {
		droppedChunks.Add(ctx, 1)
		c.log.Debug("dropping audio chunk while processing", slog.String("client_request_id", event.RequestID))
		return
	}

	if event.IsFinal && !c.server.correlator.AcceptInbound(c.session.SessionID(), event.RequestID) {
		droppedChunks.Add(ctx, 1)
		c.log.Debug("dropping duplicate utterance", slog.String("client_request_id", event.RequestID))
		c.resetChunks()
		return
	}

	if c.buffered+len(event.Audio) > c.server.maxUtterance {
		droppedChunks.Add(ctx, int64(len(c.chunks)+1))
		c.log.Warn("discarding oversized utterance",
			slog.String("client_request_id", event.RequestID),
			slog.Int("buffered_bytes", c.buffered+len(event.Audio)))
		c.resetChunks()
		c.writeEvent(protocol.Error("utterance too large"))
		return
	}

	if len(event.Audio) > 0 {
		c.chunks = append(c.chunks, event.Audio)
		c.buffered += len(event.Audio)
	}

	if event.IsFinal && len(c.chunks) > 0 {
		audio := bytes.Join(c.chunks, nil)
		c.resetChunks()

		if _, ok := c.session.OnUtteranceAudio(ctx, audio, c.sendAudio, c.sendText); !ok {
			c.writeEvent(protocol.Error("utterance was not accepted"))
		}
	}

	c.writeEvent(protocol.AudioAcknowledged(len(c.chunks)))
}

func (c *connection) resetChunks() {
	c.chunks = nil
	c.buffered = 0
}

func (c *connection) sendAudio(fragment synthesis.AudioFragment) {
	if !c.server.correlator.IsCurrent(c.session.SessionID(), fragment.RequestID) {
		return
	}

	data, err := protocol.NewAudioFrame(fragment).Marshal()
	if err != nil {
		c.log.Error("failed to encode audio frame", slog.String("error", err.Error()))
		return
	}
	c.write(websocket.BinaryMessage, data)
}

func (c *connection) sendText(text string) {
	requestID := c.server.correlator.Current(c.session.SessionID())
	c.writeEvent(protocol.TextResponse(requestID, text))
}

func (c *connection) writeEvent(event protocol.ServerEvent) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(event); err != nil {
		c.log.Debug("failed to write event", slog.String("type", event.Type), slog.String("error", err.Error()))
	}
}

func (c *connection) write(messageType int, data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.log.Debug("failed to write frame", slog.String("error", err.Error()))
	}
}

func (c *connection) close() {
	c.log.Info("client disconnected")
	c.session.Cleanup()
	c.server.removeSession(c.session.SessionID())
}
