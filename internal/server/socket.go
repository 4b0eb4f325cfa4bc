package server

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventConnectionResponse = "connection_response"
	EventNewReading         = "new_reading"
	EventSample             = "esp32_data"
)

const (
	defaultWriteWait = 10 * time.Second
	defaultPongWait  = 60 * time.Second
	maxMessageSize   = 4096
)

// socketTimeouts bound how long a silent peer keeps its subscription. Pings go
// out at nine tenths of pongWait so a healthy peer always answers in time.
type socketTimeouts struct {
	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func newSocketTimeouts(pongWait time.Duration, writeWait time.Duration) socketTimeouts {
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	return socketTimeouts{
		writeWait:  writeWait,
		pongWait:   pongWait,
		pingPeriod: (pongWait * 9) / 10,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(request *http.Request) bool {
		return true
	},
}

// Envelope mirrors a named socket event: {"event": ..., "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newEnvelope(event string, data any) ([]byte, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: encoded})
}

type connEventKind int

const (
	connEventConnect connEventKind = iota
	connEventDisconnect
	connEventSample
)

type connEvent struct {
	kind    connEventKind
	payload []byte
}

// socketSession is one accepted WebSocket connection. Every session is subscribed
// to the hub and may also push samples.
type socketSession struct {
	conn         *websocket.Conn
	subscription *Subscription
	remote       string
}

func (api *API) handleSocket(response http.ResponseWriter, request *http.Request) {
	conn, err := upgrader.Upgrade(response, request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	session := &socketSession{conn: conn, remote: clientIdentity(request, api.trustProxyHeaders)}
	if err := api.dispatch(session, connEvent{kind: connEventConnect}); err != nil {
		log.Printf("websocket connect failed remote=%s: %v", session.remote, err)
		api.dispatch(session, connEvent{kind: connEventDisconnect})
		conn.Close()
		return
	}

	go api.writePump(session)
	api.readPump(session)
}

// dispatch handles one connection event. It is the only place a session touches
// the hub or the ingestor.
func (api *API) dispatch(session *socketSession, event connEvent) error {
	switch event.kind {
	case connEventConnect:
		session.subscription = api.hub.Subscribe()
		log.Printf("client connected id=%s remote=%s", session.subscription.ID, session.remote)

		frame, err := newEnvelope(EventConnectionResponse, map[string]string{"data": "Connected"})
		if err != nil {
			return err
		}
		session.conn.SetWriteDeadline(time.Now().Add(api.socket.writeWait))
		return session.conn.WriteMessage(websocket.TextMessage, frame)

	case connEventDisconnect:
		if session.subscription != nil {
			api.hub.Unsubscribe(session.subscription)
			log.Printf("client disconnected id=%s remote=%s", session.subscription.ID, session.remote)
		}
		return nil

	case connEventSample:
		_, err := api.ingestor.IngestRaw(event.payload)
		return err
	}
	return nil
}

func (api *API) readPump(session *socketSession) {
	defer func() {
		api.dispatch(session, connEvent{kind: connEventDisconnect})
		session.conn.Close()
	}()

	session.conn.SetReadLimit(maxMessageSize)
	session.conn.SetReadDeadline(time.Now().Add(api.socket.pongWait))
	session.conn.SetPongHandler(func(string) error {
		session.conn.SetReadDeadline(time.Now().Add(api.socket.pongWait))
		return nil
	})

	for {
		_, message, err := session.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read failed remote=%s: %v", session.remote, err)
			}
			return
		}

		payload, ok := samplePayload(message)
		if !ok {
			continue
		}
		// Malformed samples are logged by the ingestor; the connection stays open.
		_ = api.dispatch(session, connEvent{kind: connEventSample, payload: payload})
	}
}

// samplePayload extracts the sample body from an inbound frame. Frames without an
// event name are treated as bare samples.
func samplePayload(message []byte) ([]byte, bool) {
	var envelope Envelope
	if err := json.Unmarshal(message, &envelope); err != nil || envelope.Event == "" {
		return bytes.TrimSpace(message), true
	}

	if envelope.Event != EventSample {
		log.Printf("ignoring websocket event=%s", envelope.Event)
		return nil, false
	}
	return envelope.Data, true
}

func (api *API) writePump(session *socketSession) {
	ticker := time.NewTicker(api.socket.pingPeriod)
	defer func() {
		ticker.Stop()
		session.conn.Close()
	}()

	for {
		select {
		case reading, ok := <-session.subscription.C:
			session.conn.SetWriteDeadline(time.Now().Add(api.socket.writeWait))
			if !ok {
				session.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			frame, err := newEnvelope(EventNewReading, reading)
			if err != nil {
				log.Printf("encode reading failed: %v", err)
				continue
			}
			if err := session.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			session.conn.SetWriteDeadline(time.Now().Add(api.socket.writeWait))
			if err := session.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
