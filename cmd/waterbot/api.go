package main

import (
	"io"
	"log"
	"net/http"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/gardenmech/waterbot/camera"
	"github.com/gardenmech/waterbot/server"
)

type api struct {
	http.Handler
	dispatcher    *server.Dispatcher
	frames        *camera.Source
	frameInterval time.Duration
	sse           *sse.Server
}

func newAPI() *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
	}

	r.HandleFunc("/ws", a.serveWS)
	r.PathPrefix("/events/").Handler(a.sse)

	return a
}

// broadcast fans a scan progress message out to every SSE listener,
// regardless of which client (or the scheduler) started the scan.
func (a *api) broadcast(msg string) {
	a.sse.SendMessage("/events/scan", sse.SimpleMessage(msg))
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsMessage struct {
	kind int
	data []byte
}

// serveWS runs the duplex command/video channel: inbound text
// commands, outbound text responses and progress plus binary JPEG
// video. A disconnect implicitly cancels a scan this client started.
func (a *api) serveWS(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Println("ERROR: upgrade:", err)
		return
	}
	log.Println("client connected:", req.RemoteAddr)

	// gorilla allows a single concurrent writer; everything funnels
	// through one channel drained by the write loop
	out := make(chan wsMessage, 64)
	done := make(chan struct{})

	go a.writeLoop(ws, out, done)
	go a.videoLoop(out, done)

	sink := func(msg string) {
		select {
		case out <- wsMessage{kind: websocket.TextMessage, data: []byte(msg)}:
		default:
			// slow client: drop progress rather than stall the scan
		}
	}

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		log.Println("received:", string(data))
		resp := a.dispatcher.Dispatch(string(data), ws, sink)
		select {
		case out <- wsMessage{kind: websocket.TextMessage, data: []byte(resp)}:
		case <-done:
		}
	}

	close(done)
	a.dispatcher.ClientGone(ws)
	ws.Close()
	log.Println("client disconnected:", req.RemoteAddr)
}

func (a *api) writeLoop(ws *websocket.Conn, out chan wsMessage, done chan struct{}) {
	for {
		select {
		case msg := <-out:
			if err := ws.WriteMessage(msg.kind, msg.data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// videoLoop pushes the freshest camera frame at the target rate; it
// and a running scan read the same source independently.
func (a *api) videoLoop(out chan wsMessage, done chan struct{}) {
	t := time.NewTicker(a.frameInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
		}
		frame, ok := a.frames.Read()
		if !ok {
			continue
		}
		select {
		case out <- wsMessage{kind: websocket.BinaryMessage, data: frame}:
		default:
			// drop the frame if the client is behind; latest wins
		}
	}
}
