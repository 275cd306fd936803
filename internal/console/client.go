// Package console is a terminal client for a running call server. Typed
// lines are sent as final transcriptions.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-call/internal/protocol"
)

// Event is one frame received from the server, or the error that ended the
// connection.
type Event struct {
	Server *protocol.ServerEvent
	Audio  *protocol.AudioFrame
	Err    error
}

type Client struct {
	conn   *websocket.Conn
	events chan Event

	writeMu sync.Mutex
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{conn: conn, events: make(chan Event, 64)}
	go c.read()
	return c, nil
}

// Events is closed after the connection fails; the last event carries the
// error.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) SendTranscription(text string) error {
	return c.send(protocol.ClientEvent{Type: protocol.TypeTranscription, Text: text, IsFinal: true})
}

func (c *Client) RequestMetrics() error {
	return c.send(protocol.ClientEvent{Type: protocol.TypeGetMetrics})
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *Client) send(event protocol.ClientEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(event)
}

func (c *Client) read() {
	defer close(c.events)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.events <- Event{Err: err}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			frame, err := protocol.UnmarshalAudioFrame(data)
			if err != nil {
				c.events <- Event{Err: err}
				continue
			}
			c.events <- Event{Audio: &frame}
		case websocket.TextMessage:
			var event protocol.ServerEvent
			if err := json.Unmarshal(data, &event); err != nil {
				c.events <- Event{Err: fmt.Errorf("failed to decode server event: %w", err)}
				continue
			}
			c.events <- Event{Server: &event}
		}
	}
}
