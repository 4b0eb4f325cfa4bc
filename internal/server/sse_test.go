package server

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func readSSEEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()

	var event, data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")

		switch {
		case line == "":
			if event != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamPushesReadingsToSubscriber(t *testing.T) {
	state := newTestServer()
	server := httptest.NewServer(state.handler)
	defer server.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	response, err := client.Get(server.URL + "/api/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer response.Body.Close()

	if contentType := response.Header.Get("Content-Type"); contentType != "text/event-stream" {
		t.Fatalf("expected event stream content type, got %q", contentType)
	}

	reader := bufio.NewReader(response.Body)
	event, data := readSSEEvent(t, reader)
	if event != EventConnectionResponse || data != `{"data":"Connected"}` {
		t.Fatalf("expected connection acknowledgement, got %s %s", event, data)
	}

	state.ingestor.Accept(Sample{Glucose: 142})

	event, data = readSSEEvent(t, reader)
	if event != EventNewReading {
		t.Fatalf("expected %s, got %s", EventNewReading, event)
	}
	expected := `{"timestamp":"` + fixedReceipt.Format(TimestampLayout) + `","value":142}`
	if data != expected {
		t.Fatalf("expected %s, got %s", expected, data)
	}
}

func TestStreamDisconnectUnsubscribes(t *testing.T) {
	state := newTestServer()
	server := httptest.NewServer(state.handler)
	defer server.Close()

	response, err := http.Get(server.URL + "/api/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}

	reader := bufio.NewReader(response.Body)
	if event, _ := readSSEEvent(t, reader); event != EventConnectionResponse {
		t.Fatalf("expected connection acknowledgement, got %s", event)
	}
	waitForSubscribers(t, state.hub, 1)

	response.Body.Close()
	waitForSubscribers(t, state.hub, 0)

	state.ingestor.Accept(Sample{Glucose: 150})
	if state.history.Len() != 1 {
		t.Fatalf("expected reading stored after disconnect, got %d", state.history.Len())
	}
}
