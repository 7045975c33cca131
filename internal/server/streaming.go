package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/af-corp/hearth/internal/events"
	"github.com/af-corp/hearth/internal/httputil"
	"github.com/af-corp/hearth/internal/pipeline"
	"github.com/af-corp/hearth/internal/types"
)

const tokenBuffer = 256

// tokenSink forwards synthesis tokens to a channel, dropping them when the
// client falls behind.
type tokenSink chan<- string

func (s tokenSink) Emit(_ context.Context, e events.Event) {
	if e.Type != events.TypeToken {
		return
	}
	tok, _ := e.Fields["token"].(string)
	select {
	case s <- tok:
	default:
	}
}

// QueryStream handles POST /v1/query/stream. Synthesis tokens are sent as
// "token" SSE events as they arrive, followed by one "done" event carrying
// the full response.
func (h *Handler) QueryStream(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	q, ok := h.decodeQuery(w, r, reqID)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	tokens := make(chan string, tokenBuffer)
	done := make(chan types.Response, 1)
	ctx := pipeline.ContextWithRequestID(r.Context(), reqID)
	ctx = events.ContextWithSink(ctx, tokenSink(tokens))
	go func() {
		done <- h.pipeline.Submit(ctx, q)
		close(tokens)
	}()

	for tok := range tokens {
		writeEvent(w, "token", map[string]string{"token": tok})
		flusher.Flush()
	}
	resp := <-done
	writeEvent(w, "done", resp)
	flusher.Flush()

	h.logger.Info("stream completed", "request_id", reqID, "intent", resp.Intent)
}

func writeEvent(w http.ResponseWriter, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
