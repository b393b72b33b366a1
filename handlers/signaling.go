package handlers

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2"

	"homerobot/transport"
)

// SignalBox - per-room mailbox holding the latest offer and answer, used by
// WebRTC peers to exchange session descriptions through the relay.
type SignalBox struct {
	mu    sync.Mutex
	rooms map[string]map[string]transport.SignalDescription // room -> kind -> description
}

func NewSignalBox() *SignalBox {
	return &SignalBox{rooms: make(map[string]map[string]transport.SignalDescription)}
}

func validKind(kind string) bool {
	return kind == "offer" || kind == "answer"
}

// HandlePut - PUT /api/rooms/:room/:kind
func (b *SignalBox) HandlePut(c *fiber.Ctx) error {
	room, kind := c.Params("room"), c.Params("kind")
	if !validKind(kind) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "kind must be offer or answer"})
	}

	var d transport.SignalDescription
	if err := json.Unmarshal(c.Body(), &d); err != nil || len(d.SDP) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid session description"})
	}

	b.mu.Lock()
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[string]transport.SignalDescription)
	}
	b.rooms[room][kind] = d
	b.mu.Unlock()

	return c.SendStatus(fiber.StatusNoContent)
}

// HandleGet - GET /api/rooms/:room/:kind, 404 until a description is posted
func (b *SignalBox) HandleGet(c *fiber.Ctx) error {
	room, kind := c.Params("room"), c.Params("kind")
	if !validKind(kind) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "kind must be offer or answer"})
	}

	b.mu.Lock()
	d, ok := b.rooms[room][kind]
	b.mu.Unlock()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "nothing posted yet"})
	}
	return c.JSON(d)
}

// HandleDelete - DELETE /api/rooms/:room clears both descriptions
func (b *SignalBox) HandleDelete(c *fiber.Ctx) error {
	b.mu.Lock()
	delete(b.rooms, c.Params("room"))
	b.mu.Unlock()
	return c.SendStatus(fiber.StatusNoContent)
}
