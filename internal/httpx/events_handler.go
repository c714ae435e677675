package httpx

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/notify"
)

const defaultHeartbeat = 15 * time.Second

// EventsHandler streams hub events to a connected admin as server-sent
// events. The subscription lives exactly as long as the request.
type EventsHandler struct {
	Hub       *notify.Hub
	Heartbeat time.Duration
	Log       *zap.Logger
}

func (h *EventsHandler) Register(r chi.Router) {
	r.Get("/admin/events", h.stream)
}

func (h *EventsHandler) stream(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if !who.IsAdmin() {
		writeError(w, h.Log, fmt.Errorf("event stream: %w", apperr.ErrForbidden))
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.OrNop(h.Log).Warn("streaming unsupported", zap.Error(err))
		return
	}

	sub := h.Hub.Register(who.Email)
	defer h.Hub.Unregister(sub)

	every := h.Heartbeat
	if every <= 0 {
		every = defaultHeartbeat
	}
	tick := time.NewTicker(every)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeEvent frames one event. Every line of the payload gets its own data
// field, so a payload containing newlines cannot end the event early.
func writeEvent(w io.Writer, ev notify.Event) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "event: %s\nid: %s\n", oneLine(ev.Name), oneLine(ev.Key))
	data := bytes.ReplaceAll(ev.Data, []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
	for _, line := range bytes.Split(data, []byte("\n")) {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')
	_, err := w.Write(b.Bytes())
	return err
}

func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
