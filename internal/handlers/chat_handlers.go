package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pelusa-v/pelusa-dm/internal/blob"
	"github.com/pelusa-v/pelusa-dm/internal/chat"
	"github.com/samber/lo"
)

type ChatHandlers struct {
	log        *slog.Logger
	router     *chat.Router
	presence   *chat.Presence
	history    *chat.History
	blobs      chat.BlobStore
	bufferSize int
}

func NewChatHandlers(log *slog.Logger, router *chat.Router, presence *chat.Presence, history *chat.History, blobs chat.BlobStore, bufferSize int) *ChatHandlers {
	return &ChatHandlers{
		log:        log,
		router:     router,
		presence:   presence,
		history:    history,
		blobs:      blobs,
		bufferSize: bufferSize,
	}
}

// Routes mounts the socket and HTTP endpoints.
func (h *ChatHandlers) Routes(app *fiber.App) {
	app.Get("/api/ws/:identity?", websocket.New(h.SessionHandler))
	app.Get("/api/clients", h.ShowClientsHandler) // ?exclude=identity
	app.Get("/api/messages", h.HistoryHandler)    // ?sender=&recipient=&limit=
	app.Post("/api/messages", h.PostMessageHandler)
	app.Post("/api/attachments", h.UploadHandler)
}

// SessionHandler GET /api/ws/:identity?
// With an identity in the path the session is identified on connect,
// otherwise the client sends setUsername.
func (h *ChatHandlers) SessionHandler(c *websocket.Conn) {
	s := chat.NewSession(h.log, c, h.router, h.presence, h.bufferSize)
	if identity := c.Params("identity"); identity != "" {
		_ = s.SetUsername(identity)
	}
	s.Run(context.Background())
}

// ShowClientsHandler GET /api/clients?exclude=identity
func (h *ChatHandlers) ShowClientsHandler(c *fiber.Ctx) error {
	ex := strings.TrimSpace(c.Query("exclude"))
	return c.JSON(lo.Without(h.presence.Identities(), ex))
}

// HistoryHandler GET /api/messages?sender=&recipient=&limit=
func (h *ChatHandlers) HistoryHandler(c *fiber.Ctx) error {
	sender, recipient := c.Query("sender"), c.Query("recipient")
	var (
		msgs []chat.Message
		err  error
	)
	if limit := c.QueryInt("limit", -1); limit >= 0 {
		msgs, err = h.history.Page(c.UserContext(), sender, recipient, limit)
	} else {
		msgs, err = h.history.GetHistory(c.UserContext(), sender, recipient)
	}
	if err != nil {
		return err
	}
	return c.JSON(msgs)
}

// PostMessageHandler POST /api/messages
// The message is persisted and pushed to online parties like a socket send.
func (h *ChatHandlers) PostMessageHandler(c *fiber.Ctx) error {
	var p chat.Payload
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	m, err := h.router.Submit(c.UserContext(), p, nil)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

// UploadHandler POST /api/attachments (multipart field "file")
func (h *ChatHandlers) UploadHandler(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no file provided"})
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	ref, err := h.blobs.Put(c.UserContext(), fh.Filename, f)
	if errors.Is(err, blob.ErrEmptyUpload) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no file provided"})
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"reference": ref})
}

// ErrorHandler turns chat errors into status codes with an {"error": ...} body.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := StatusCode(err)
		msg := err.Error()
		if code >= fiber.StatusInternalServerError {
			log.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
			msg = "Internal Server Error"
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}

func StatusCode(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, chat.ErrValidation),
		errors.Is(err, chat.ErrInvalidReference),
		errors.Is(err, chat.ErrMissingParameter):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
