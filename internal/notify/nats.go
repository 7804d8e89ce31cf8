package notify

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes on <prefix>.<tenantId>.<event type>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "bursar"
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

func (s *NATSSink) Subject(event Event) string {
	return s.prefix + "." + event.TenantID.String() + "." + string(event.Type)
}

func (s *NATSSink) Send(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(s.Subject(event))
	msg.Data = data
	msg.Header.Set("Nats-Msg-Id", eventID(event))
	return s.conn.PublishMsg(msg)
}

func eventID(event Event) string {
	if event.PaymentID != nil {
		return string(event.Type) + ":" + event.PaymentID.String()
	}
	return string(event.Type) + ":" + event.ObligationID.String()
}
