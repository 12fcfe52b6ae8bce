package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Authenticator is implemented by types able to extract user IDs from
// Authorization headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin browsers are allowed; the deployment fronts this with
	// the same permissive CORS policy as the REST surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Register wires the realtime WebSocket endpoint on the given Echo
// instance.
func Register(e *echo.Echo, hub *Hub, router *Router, auth Authenticator) {
	e.GET("/ws", serveWS(hub, router, auth))
}

func serveWS(hub *Hub, router *Router, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		s := hub.NewSession(userID, conn)
		go s.writeLoop()
		s.readLoop(router)
		return nil
	}
}
