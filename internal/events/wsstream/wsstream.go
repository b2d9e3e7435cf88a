// Package wsstream streams bus events to websocket clients.
//
// Clients connect to the handler and receive one text frame per event, the
// JSON envelope produced by [events.Encode]. An optional "events" query
// parameter (comma separated names) restricts the stream.
package wsstream

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/murmur/internal/events"
)

// Handler is an http.Handler that upgrades to a websocket and streams events.
type Handler struct {
	bus          *events.Bus
	accept       *websocket.AcceptOptions
	writeTimeout time.Duration
}

// Option configures a [Handler].
type Option func(*Handler)

// WithOriginPatterns allows cross-origin clients matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.accept.OriginPatterns = patterns }
}

// WithInsecureSkipVerify disables the origin check entirely.
func WithInsecureSkipVerify() Option {
	return func(h *Handler) { h.accept.InsecureSkipVerify = true }
}

// WithWriteTimeout bounds each frame write. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.writeTimeout = d }
}

// NewHandler returns a handler streaming from bus.
func NewHandler(bus *events.Bus, opts ...Option) *Handler {
	h := &Handler{bus: bus, accept: &websocket.AcceptOptions{}, writeTimeout: 5 * time.Second}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	names := parseNames(r.URL.Query().Get("events"))

	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		slog.Debug("wsstream: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ch, cancel := h.bus.Subscribe(names...)
	defer cancel()

	// The stream is one-way; CloseRead handles control frames and cancels
	// ctx when the client goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := h.write(ctx, conn, e); err != nil {
				slog.Debug("wsstream: write failed", "event", e.EventName(), "err", err)
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, e events.Event) error {
	data, err := events.Encode(e)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func parseNames(raw string) []events.Name {
	if raw == "" {
		return nil
	}
	var names []events.Name
	for p := range strings.SplitSeq(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, events.Name(p))
		}
	}
	return names
}
