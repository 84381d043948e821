package satellite

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"

	"taskrails/internal/domain"
)

// URL returns the websocket URL of a satellite server on host:port.
func URL(host string, port int) string {
	return fmt.Sprintf("ws://%s:%d/ws", host, port)
}

// Listen connects to url with token and calls handle for every text message
// until ctx ends or the server closes the connection. A normal close
// returns nil.
func Listen(ctx context.Context, url, token string, handle func(payload string)) error {
	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return domain.NewDomainError("satellite.Listen", domain.ErrSatelliteAuth, url)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if typ == websocket.MessageText {
			handle(string(data))
		}
	}
}
