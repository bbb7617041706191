package propaganda

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/apollolytics/dialogue-backend/internal/config"
	"github.com/apollolytics/dialogue-backend/internal/model/propaganda"
)

// Client talks to the external propaganda-detection service. One short-lived
// connection is opened per analyzed article; nothing is pooled or retried.
type Client struct {
	cfg    config.PropagandaConfig
	dialer *websocket.Dialer
	cache  *Cache
}

type analyzeRequest struct {
	ModelName     string `json:"model_name"`
	Contextualize bool   `json:"contextualize"`
	Text          string `json:"text"`
}

// NewClient builds a detection client. A cache is attached only when the
// configuration enables cached lookups by origin URL.
func NewClient(cfg config.PropagandaConfig) *Client {
	c := &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
	if cfg.CacheEnabled {
		c.cache = NewCache()
	}
	return c
}

// Analyze streams one article to the detection service and returns the last
// well-formed result frame. Any transport or handshake failure degrades to the
// empty result; callers treat that as "no propaganda information available".
// The read loop is bounded only by the remote side's close behavior.
func (c *Client) Analyze(ctx context.Context, article, originURL string) propaganda.Result {
	if c.cache != nil && originURL != "" {
		if cached, ok := c.cache.Get(originURL); ok {
			logrus.Infof("[propaganda] cache hit for origin %s", originURL)
			return cached
		}
	}

	result := c.analyze(ctx, article)

	if c.cache != nil && originURL != "" && !result.Empty() {
		c.cache.Put(originURL, result)
	}
	return result
}

func (c *Client) analyze(ctx context.Context, article string) propaganda.Result {
	logrus.Info("[propaganda] starting detection")

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		logrus.Errorf("[propaganda] dial failed: %v", err)
		return propaganda.Result{}
	}
	defer conn.Close()

	req := analyzeRequest{
		ModelName:     c.cfg.ModelName,
		Contextualize: true,
		Text:          article,
	}
	if err := conn.WriteJSON(req); err != nil {
		logrus.Errorf("[propaganda] send failed: %v", err)
		return propaganda.Result{}
	}

	var last propaganda.Result
	received := false

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logrus.Errorf("[propaganda] connection closed abnormally: %v", err)
			}
			break
		}

		var frame propaganda.Result
		if err := json.Unmarshal(payload, &frame); err != nil {
			// Malformed frames are dropped, not retried.
			logrus.Errorf("[propaganda] received invalid JSON frame: %v", err)
			continue
		}
		last = frame
		received = true
	}

	if !received {
		logrus.Info("[propaganda] detection completed with no result")
		return propaganda.Result{}
	}

	logrus.Infof("[propaganda] detection completed, %d categories", len(last.Data))
	return last
}
