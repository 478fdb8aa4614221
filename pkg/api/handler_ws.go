package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler handles GET /delivery-events. Authentication happens in the
// handshake — the session token travels in the Authorization header or,
// for browser clients that cannot set WebSocket headers, in the `token`
// query parameter — and the connection is then handed to the
// ConnectionManager, which blocks until the client disconnects.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.deps.ConnManager == nil {
		return c.JSON(http.StatusServiceUnavailable, &Envelope{
			Success: false,
			Code:    "DEPENDENCY_FAILURE",
			Message: "event delivery unavailable",
		})
	}

	p, err := s.authenticateWS(c.Request())
	if err != nil {
		return c.JSON(http.StatusUnauthorized, &Envelope{
			Success:       false,
			Code:          "UNAUTHENTICATED",
			Message:       "missing or invalid credentials",
			CorrelationID: correlationID(c),
		})
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// The token check above is the auth boundary; cross-origin
		// browsers still need the token to connect.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	s.deps.ConnManager.HandleConnection(c.Request().Context(), conn, p.UserID, p.Role)
	return nil
}

// authenticateWS authenticates the WebSocket handshake request.
func (s *Server) authenticateWS(r *http.Request) (*Principal, error) {
	if s.deps.JWT != nil {
		if token := r.URL.Query().Get("token"); token != "" {
			return s.deps.JWT.Verify(token)
		}
	}
	return s.deps.Auth.Authenticate(r)
}
