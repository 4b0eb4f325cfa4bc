package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const sseKeepAlive = 30 * time.Second

// handleStream is the Server-Sent Events flavour of the subscription endpoint for
// viewers that cannot open a WebSocket.
func (api *API) handleStream(response http.ResponseWriter, request *http.Request) {
	flusher, ok := response.(http.Flusher)
	if !ok {
		writeError(response, http.StatusInternalServerError, "streaming not supported")
		return
	}

	response.Header().Set("Content-Type", "text/event-stream")
	response.Header().Set("Cache-Control", "no-cache")
	response.Header().Set("Connection", "keep-alive")

	subscription := api.hub.Subscribe()
	defer api.hub.Unsubscribe(subscription)

	remote := clientIdentity(request, api.trustProxyHeaders)
	log.Printf("stream client connected id=%s remote=%s", subscription.ID, remote)
	defer log.Printf("stream client disconnected id=%s remote=%s", subscription.ID, remote)

	if err := writeSSE(response, EventConnectionResponse, map[string]string{"data": "Connected"}); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-request.Context().Done():
			return
		case reading, ok := <-subscription.C:
			if !ok {
				return
			}
			if err := writeSSE(response, EventNewReading, reading); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(response, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(response http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(response, "event: %s\ndata: %s\n\n", event, data)
	return err
}
