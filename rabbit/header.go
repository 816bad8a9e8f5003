package rabbit

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relmq/relmq"
)

// toPublishing maps a message header onto AMQP wire properties. Messages are
// published persistent.
func toPublishing(header *relmq.MessageHeader, body []byte, appID string) amqp.Publishing {
	pub := amqp.Publishing{
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}
	if header == nil {
		return pub
	}

	pub.MessageId = header.ID
	pub.ContentType = header.ContentType
	pub.Type = header.Type
	pub.AppId = header.AppID
	if pub.AppId == "" {
		pub.AppId = appID
	}
	if !header.Timestamp.IsZero() {
		pub.Timestamp = header.Timestamp
	} else {
		pub.Timestamp = time.Now().UTC()
	}
	if len(header.Properties) > 0 {
		table := make(amqp.Table, len(header.Properties))
		for k, v := range header.Properties {
			table[k] = v
		}
		pub.Headers = table
	}

	return pub
}

// fromDelivery reconstructs the message header from AMQP wire properties.
func fromDelivery(d amqp.Delivery) *relmq.MessageHeader {
	header := &relmq.MessageHeader{
		ID:          d.MessageId,
		Timestamp:   d.Timestamp,
		ContentType: d.ContentType,
		Type:        d.Type,
		AppID:       d.AppId,
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
	}
	if len(d.Headers) > 0 {
		header.Properties = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			header.Properties[k] = fmt.Sprintf("%v", v)
		}
	}

	return header
}
