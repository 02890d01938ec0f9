package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes mounts the observer endpoint. Each connection watches one
// session's event feed; the socket is one-way toward the client.
func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/ws/:sessionID", websocket.New(observe(hub)))
}

func observe(hub *Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		obs := hub.Register(c.Params("sessionID"))
		defer hub.Unregister(obs)

		// Observers have nothing to say; the read loop exists to notice the
		// peer going away and to service control frames.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg, ok := <-obs.Send:
				if !ok {
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-gone:
				return
			}
		}
	}
}
