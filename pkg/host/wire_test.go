package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionbridge/pkg/message"
)

func TestEncodeDecodeMessage_RoundTrip(t *testing.T) {
	orig := message.New("ADT_A01", message.Payload{
		Raw:         []byte("MSH|^~\\&|..."),
		ContentType: "application/hl7-v2",
		Encoding:    "er7",
	}, "adt-inbound")
	orig.Envelope.Priority = message.PriorityHigh
	orig.Envelope.Tags = []string{"adt", "urgent"}
	orig.Envelope.MaxRetries = 3
	orig = orig.WithRetry()
	orig = orig.IncrementHop("router")

	encoded, err := encodeMessage(orig)
	require.NoError(t, err)

	decoded, err := decodeMessage(encoded)
	require.NoError(t, err)

	assert.Equal(t, orig.Envelope.MessageID, decoded.Envelope.MessageID)
	assert.Equal(t, orig.Envelope.CorrelationID, decoded.Envelope.CorrelationID)
	assert.Equal(t, orig.Envelope.MessageType, decoded.Envelope.MessageType)
	assert.Equal(t, orig.Envelope.Priority, decoded.Envelope.Priority)
	assert.Equal(t, orig.Envelope.Tags, decoded.Envelope.Tags)
	assert.Equal(t, orig.Envelope.RetryCount, decoded.Envelope.RetryCount)
	assert.Equal(t, orig.Envelope.MaxRetries, decoded.Envelope.MaxRetries)
	assert.Equal(t, orig.Envelope.Routing, decoded.Envelope.Routing)
	assert.Equal(t, orig.Envelope.State, decoded.Envelope.State)
	assert.Equal(t, orig.Payload.Raw, decoded.Payload.Raw)
	assert.Equal(t, orig.Payload.ContentType, decoded.Payload.ContentType)
	assert.Equal(t, orig.Payload.Encoding, decoded.Payload.Encoding)

	assert.WithinDuration(t, orig.Envelope.CreatedAt, decoded.Envelope.CreatedAt, time.Second)
}

func TestEncodeMessage_DropsTypedProperties(t *testing.T) {
	prop, err := message.NewTypedProperty("SMITH", message.PropString, 0)
	require.NoError(t, err)
	orig := message.New("ADT_A01", message.Payload{Raw: []byte("a")}, "in").WithProperty("patient_name", prop)

	encoded, err := encodeMessage(orig)
	require.NoError(t, err)

	decoded, err := decodeMessage(encoded)
	require.NoError(t, err)
	assert.Nil(t, decoded.Payload.Properties)
}

func TestDecodeMessage_InvalidJSON(t *testing.T) {
	_, err := decodeMessage([]byte("not json"))
	assert.Error(t, err)
}
