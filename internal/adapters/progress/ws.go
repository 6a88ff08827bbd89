package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

// frame is the wire format pushed to the notification endpoint.
type frame struct {
	Type    string    `json:"type"` // progress | complete | error
	Wallet  string    `json:"wallet"`
	Payload any       `json:"payload,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Message string    `json:"message,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

// WSSink publishes progress frames over a websocket connection to the
// notification endpoint. Publishing is best effort: a broken connection is
// redialed on the next frame, and a frame that still cannot be sent is
// logged and dropped rather than stalling the pipeline.
type WSSink struct {
	url    string
	dialer *websocket.Dialer
	log    *logrus.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ domain.ProgressSink = (*WSSink)(nil)

// NewWSSink creates a websocket progress sink for the given endpoint.
func NewWSSink(url string, log *logrus.Logger) *WSSink {
	return &WSSink{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func (s *WSSink) Publish(ctx context.Context, wallet string, p domain.Progress) {
	s.send(ctx, frame{Type: "progress", Wallet: wallet, Payload: p, SentAt: time.Now().UTC()})
}

func (s *WSSink) Complete(ctx context.Context, wallet string, summary domain.Summary) {
	s.send(ctx, frame{Type: "complete", Wallet: wallet, Payload: summary, SentAt: time.Now().UTC()})
}

func (s *WSSink) Fail(ctx context.Context, wallet string, reason, message string) {
	s.send(ctx, frame{Type: "error", Wallet: wallet, Reason: reason, Message: message, SentAt: time.Now().UTC()})
}

// Close shuts the connection down.
func (s *WSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *WSSink) send(ctx context.Context, f frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(ctx, f); err != nil {
		// One reconnect attempt per frame; drop on repeat failure.
		s.resetLocked()
		if err := s.writeLocked(ctx, f); err != nil {
			s.log.WithFields(logrus.Fields{
				"wallet": f.Wallet,
				"type":   f.Type,
			}).WithError(err).Warn("dropping progress frame")
		}
	}
}

func (s *WSSink) writeLocked(ctx context.Context, f frame) error {
	if s.conn == nil {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			return fmt.Errorf("dialing %s: %w", s.url, err)
		}
		s.conn = conn
	}
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(f)
}

func (s *WSSink) resetLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
