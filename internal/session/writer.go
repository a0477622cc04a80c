package session

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Writer serializes all frame writes to one connection. The receive loop and
// every dispatch task send through it; gorilla connections do not tolerate
// concurrent writers, so a single goroutine owns the write side.
type Writer struct {
	conn    *websocket.Conn
	frames  chan any
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewWriter(conn *websocket.Conn) *Writer {
	w := &Writer{
		conn:    conn,
		frames:  make(chan any, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.pump()
	return w
}

func (w *Writer) pump() {
	defer close(w.stopped)
	for {
		select {
		case frame := <-w.frames:
			if err := w.conn.WriteJSON(frame); err != nil {
				log.Printf("Writer: send failed: %v", err)
			}
		case <-w.done:
			// Flush frames queued before Close so the final saved/ack events
			// reach the client before the connection is torn down.
			for {
				select {
				case frame := <-w.frames:
					if err := w.conn.WriteJSON(frame); err != nil {
						log.Printf("Writer: send failed: %v", err)
					}
				default:
					return
				}
			}
		}
	}
}

// Send queues one frame. After Close, frames are silently discarded: late
// provider results for a gone connection are dropped, not an error.
func (w *Writer) Send(frame any) {
	select {
	case <-w.done:
	case w.frames <- frame:
	}
}

// Close stops the pump and blocks until every frame queued before the call
// has been written, so callers may close the connection immediately after.
func (w *Writer) Close() {
	w.once.Do(func() { close(w.done) })
	<-w.stopped
}
