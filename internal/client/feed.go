package client

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

// Subscribe dials the server's change feed. The returned channel closes when
// ctx ends or the connection drops.
func (c *HTTPClient) Subscribe(ctx context.Context) (<-chan catalog.Event, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	header.Set("X-Correlation-Id", correlationID())
	conn, _, err := websocket.Dial(ctx, c.feedURL(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}

	events := make(chan catalog.Event, 16)
	go func() {
		defer close(events)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			var event catalog.Event
			if err := wsjson.Read(ctx, conn, &event); err != nil {
				if ctx.Err() == nil && !isNormalClose(err) {
					c.log.Warn().Err(err).Msg("change feed dropped")
				}
				return
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (c *HTTPClient) feedURL() string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/feed"
}

func isNormalClose(err error) bool {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.StatusNormalClosure || closeErr.Code == websocket.StatusGoingAway
	}
	return false
}
