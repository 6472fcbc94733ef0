package push

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/Tom-Standen/MomentumTrading/internal/infrastructure"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscribeFunc func(subject string, handler nats.MsgHandler) (*nats.Subscription, error)

type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// PushGateway relays run and trade events from JetStream to websocket clients.
// Clients send {"action":"subscribe","topic":"frama.trades.ETHUSDT"}; only
// subjects under frama. may be requested.
type PushGateway struct {
	logger        *zap.Logger
	subscribe     subscribeFunc
	clients       map[*Client]bool
	subscriptions map[string]map[*Client]bool
	natsSubs      map[string]*nats.Subscription
	mu            sync.RWMutex
}

func NewPushGateway(js nats.JetStreamContext, logger *zap.Logger) *PushGateway {
	return newPushGateway(func(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
		return js.Subscribe(subject, handler, nats.DeliverNew(), nats.ManualAck())
	}, logger)
}

func newPushGateway(subscribe subscribeFunc, logger *zap.Logger) *PushGateway {
	return &PushGateway{
		logger:        logger,
		subscribe:     subscribe,
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		natsSubs:      make(map[string]*nats.Subscription),
	}
}

func allowedTopic(topic string) bool {
	return strings.HasPrefix(topic, infrastructure.RunSubject+".") ||
		strings.HasPrefix(topic, infrastructure.TradeSubject+".")
}

func (g *PushGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	g.mu.Lock()
	g.clients[client] = true
	g.mu.Unlock()
	infrastructure.WSConnections.Inc()

	go g.writePump(client)
	g.readPump(client)
}

func (g *PushGateway) readPump(c *Client) {
	defer func() {
		g.mu.Lock()
		delete(g.clients, c)
		for topic := range g.subscriptions {
			g.dropLocked(topic, c)
		}
		g.mu.Unlock()
		infrastructure.WSConnections.Dec()
		close(c.send)
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var req struct {
			Action string `json:"action"` // "subscribe", "unsubscribe"
			Topic  string `json:"topic"`
		}
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		if !allowedTopic(req.Topic) {
			g.logger.Warn("rejected websocket topic", zap.String("topic", req.Topic))
			continue
		}

		g.mu.Lock()
		switch req.Action {
		case "subscribe":
			if g.subscriptions[req.Topic] == nil {
				if err := g.subscribeToNATS(req.Topic); err != nil {
					g.logger.Error("failed to subscribe to NATS", zap.String("topic", req.Topic), zap.Error(err))
					g.mu.Unlock()
					continue
				}
				g.subscriptions[req.Topic] = make(map[*Client]bool)
			}
			g.subscriptions[req.Topic][c] = true
			g.logger.Info("client subscribed to topic", zap.String("topic", req.Topic))
		case "unsubscribe":
			g.dropLocked(req.Topic, c)
		}
		g.mu.Unlock()
	}
}

// dropLocked removes c from topic and releases the NATS subscription once the
// topic has no clients left. g.mu must be held.
func (g *PushGateway) dropLocked(topic string, c *Client) {
	clients, ok := g.subscriptions[topic]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) > 0 {
		return
	}
	if sub := g.natsSubs[topic]; sub != nil {
		_ = sub.Unsubscribe()
		g.logger.Info("unsubscribed from NATS as no clients left", zap.String("topic", topic))
	}
	delete(g.natsSubs, topic)
	delete(g.subscriptions, topic)
}

func (g *PushGateway) writePump(c *Client) {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (g *PushGateway) deliver(topic string, data []byte) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for c := range g.subscriptions[topic] {
		select {
		case c.send <- data:
		default:
			// Do not block, just drop if channel is full
		}
	}
}

func (g *PushGateway) subscribeToNATS(topic string) error {
	sub, err := g.subscribe(topic, func(msg *nats.Msg) {
		g.deliver(topic, msg.Data)
		_ = msg.Ack()
	})
	if err != nil {
		return err
	}

	g.natsSubs[topic] = sub
	g.logger.Info("subscribed to NATS topic", zap.String("topic", topic))
	return nil
}
