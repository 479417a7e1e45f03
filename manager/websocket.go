package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tonycerq/tonycerq-comfyui/manager/events"
	"github.com/tonycerq/tonycerq-comfyui/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // allow all origins
}

// websocket streams broadcaster events to one viewer. A viewer that falls
// behind is disconnected with a try-again-later close frame.
func (a *restAPI) websocket(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnln("websocket: upgrade error:", err)
		return
	}
	defer c.Close()

	sub := a.manager.events.Subscribe()
	defer sub.Close()
	logrus.Debugf("websocket: %s connected, %d subscribers", r.RemoteAddr, a.manager.events.Len())

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		c.SetReadLimit(512)
		c.SetReadDeadline(time.Now().Add(pongWait))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(pongWait))
		})
		// viewers send nothing but control frames
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writeEvents(c, sub, gone)
	c.Close()
	<-gone
	logrus.Debugf("websocket: %s disconnected", r.RemoteAddr)
}

func writeEvents(c *websocket.Conn, sub *events.Subscription, gone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				code, text := websocket.CloseGoingAway, "server closing"
				if errors.Is(sub.Err(), events.ErrSlowConsumer) {
					code, text = websocket.CloseTryAgainLater, sub.Err().Error()
					logrus.Warnln("websocket: dropping subscriber:", text)
				}
				c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
				return
			}
			b, err := model.EncodeEvent(e)
			if err != nil {
				logrus.Errorln("websocket: encode error:", err)
				continue
			}
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
				logrus.Debugln("websocket: write error:", err)
				return
			}
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
