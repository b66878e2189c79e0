package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-fields/internal/service"
)

// RegisterEvents registers the per-viewer event stream.
func (h *APIHandler) RegisterEvents(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events, huma.OperationTags("events"))
}

// Events streams the bus events addressed to the caller as Datastar signal
// patches until the client goes away.
func (h *APIHandler) Events(ctx context.Context, input *Caller) (*huma.StreamResponse, error) {
	userID := input.UserID
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			r, w := humago.Unwrap(humaCtx)
			sse := datastar.NewSSE(w, r)

			ch := h.svc.Bus.Subscribe()
			defer h.svc.Bus.Unsubscribe(ch)

			streamEvents(r.Context(), ch, userID, func(ev service.Event) error {
				return sse.MarshalAndPatchSignals(map[string]any{"event": ev})
			})
		},
	}, nil
}

// streamEvents forwards the events that concern userID to send until ctx is
// done, the channel closes, or send fails.
func streamEvents(ctx context.Context, ch <-chan service.Event, userID string, send func(service.Event) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !ev.Concerns(userID) {
				continue
			}
			if err := send(ev); err != nil {
				return
			}
		}
	}
}
