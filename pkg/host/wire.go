package host

import (
	"encoding/json"
	"time"

	"ionbridge/pkg/message"
)

// wireMessage is the over-the-wire form of a Message sent through an
// external queue. Typed Payload.Properties are not carried across the
// boundary — only Raw and its content metadata — since their values are
// declared `any` and JSON cannot round-trip that without a schema; a
// Process Host that needs them should re-derive them from Raw on the
// receiving side, the same way it would for any other inbound Adapter.
type wireMessage struct {
	MessageID     string    `json:"message_id"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id"`
	CreatedAt     time.Time `json:"created_at"`
	MessageType   string    `json:"message_type"`
	Priority      int       `json:"priority"`
	Tags          []string  `json:"tags,omitempty"`
	RetryCount    int       `json:"retry_count"`
	MaxRetries    int       `json:"max_retries"`
	DeliveryMode  int       `json:"delivery_mode"`
	Source        string    `json:"source"`
	Destination   string    `json:"destination,omitempty"`
	RouteID       string    `json:"route_id,omitempty"`
	HopCount      int       `json:"hop_count"`
	Pattern       string    `json:"pattern,omitempty"`
	State         int       `json:"state"`
	Raw           []byte    `json:"raw"`
	ContentType   string    `json:"content_type"`
	Encoding      string    `json:"encoding"`
}

func encodeMessage(msg message.Message) ([]byte, error) {
	wm := wireMessage{
		MessageID:     msg.Envelope.MessageID,
		CorrelationID: msg.Envelope.CorrelationID,
		CausationID:   msg.Envelope.CausationID,
		CreatedAt:     msg.Envelope.CreatedAt,
		MessageType:   msg.Envelope.MessageType,
		Priority:      int(msg.Envelope.Priority),
		Tags:          msg.Envelope.Tags,
		RetryCount:    msg.Envelope.RetryCount,
		MaxRetries:    msg.Envelope.MaxRetries,
		DeliveryMode:  int(msg.Envelope.DeliveryMode),
		Source:        msg.Envelope.Routing.Source,
		Destination:   msg.Envelope.Routing.Destination,
		RouteID:       msg.Envelope.Routing.RouteID,
		HopCount:      msg.Envelope.Routing.HopCount,
		Pattern:       msg.Envelope.Routing.Pattern,
		State:         int(msg.Envelope.State),
		Raw:           msg.Payload.Raw,
		ContentType:   msg.Payload.ContentType,
		Encoding:      msg.Payload.Encoding,
	}
	return json.Marshal(wm)
}

func decodeMessage(data []byte) (message.Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return message.Message{}, err
	}
	return message.Message{
		Envelope: message.Envelope{
			MessageID:     wm.MessageID,
			CorrelationID: wm.CorrelationID,
			CausationID:   wm.CausationID,
			CreatedAt:     wm.CreatedAt,
			MessageType:   wm.MessageType,
			Priority:      message.Priority(wm.Priority),
			Tags:          wm.Tags,
			RetryCount:    wm.RetryCount,
			MaxRetries:    wm.MaxRetries,
			DeliveryMode:  message.DeliveryMode(wm.DeliveryMode),
			Routing: message.Routing{
				Source:      wm.Source,
				Destination: wm.Destination,
				RouteID:     wm.RouteID,
				HopCount:    wm.HopCount,
				Pattern:     wm.Pattern,
			},
			State: message.State(wm.State),
		},
		Payload: message.Payload{
			Raw:         wm.Raw,
			ContentType: wm.ContentType,
			Encoding:    wm.Encoding,
		},
	}, nil
}
