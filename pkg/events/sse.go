package events

import (
	"fmt"
	"net/http"
)

// Handler streams the bus as text/event-stream. New clients first receive
// the last replay events.
func Handler(b *Bus, replay int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch, done := b.Subscribe()
		defer b.Unsubscribe(done)

		for _, e := range b.Recent(replay) {
			fmt.Fprintf(w, "data: %s\n\n", e.Marshal())
		}
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", e.Marshal())
				flusher.Flush()
			}
		}
	}
}
