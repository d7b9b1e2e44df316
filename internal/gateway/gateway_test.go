package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Publisher = (*fakeQueue)(nil)

type fakeQueue struct {
	published  []publishCall
	exchanges  []string
	queues     []string
	publishErr error
}

type publishCall struct {
	exchange   string
	routingKey string
	data       interface{}
	persistent bool
}

func (f *fakeQueue) PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishCall{exchangeName, routingKey, data, persistent})
	return nil
}

func (f *fakeQueue) EnsureExchange(exchangeName, exchangeType string, durable bool) error {
	f.exchanges = append(f.exchanges, exchangeName)
	return nil
}

func (f *fakeQueue) EnsureQueue(queueName string, durable bool) error {
	f.queues = append(f.queues, queueName)
	return nil
}

func (f *fakeQueue) BindQueue(queueName, exchangeName, routingKey string) error {
	return nil
}

func testGateway(queue *fakeQueue) *Gateway {
	return &Gateway{
		queue:          queue,
		exchange:       "vendor.events",
		routingKey:     "vendor.outbound",
		defaultRegion:  "TR",
		publishTimeout: 5 * time.Second,
	}
}

func TestSendToVendorPublishesPersistent(t *testing.T) {
	queue := &fakeQueue{}
	gw := testGateway(queue)

	msgID, err := gw.SendToVendor(context.Background(), "+905321234567", "Siparişiniz hazır mı?")
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	require.Len(t, queue.published, 1)
	call := queue.published[0]
	assert.Equal(t, "vendor.events", call.exchange)
	assert.Equal(t, "vendor.outbound", call.routingKey)
	assert.True(t, call.persistent, "vendor messages must survive a broker restart")

	msg, ok := call.data.(outboundMessage)
	require.True(t, ok)
	assert.Equal(t, "+905321234567", msg.VendorPhone)
	assert.Equal(t, msgID, msg.MessageID)
}

func TestSendToVendorNormalizesNationalFormat(t *testing.T) {
	queue := &fakeQueue{}
	gw := testGateway(queue)

	_, err := gw.SendToVendor(context.Background(), "0532 123 45 67", "merhaba")
	require.NoError(t, err)

	require.Len(t, queue.published, 1)
	msg := queue.published[0].data.(outboundMessage)
	assert.Equal(t, "+905321234567", msg.VendorPhone)
}

func TestSendToVendorRejectsInvalidNumberBeforePublish(t *testing.T) {
	queue := &fakeQueue{}
	gw := testGateway(queue)

	_, err := gw.SendToVendor(context.Background(), "not a phone", "hi")
	require.Error(t, err)
	assert.Empty(t, queue.published, "an invalid number must never reach the broker")

	_, err = gw.SendToVendor(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Empty(t, queue.published)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw     string
		region  string
		want    string
		wantErr bool
	}{
		{"+905321234567", "TR", "+905321234567", false},
		{"0532 123 45 67", "TR", "+905321234567", false},
		{"(532) 123-45-67", "TR", "+905321234567", false},
		{"12345", "TR", "", true},
		{"", "TR", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.raw, tt.region)
		if tt.wantErr {
			assert.Error(t, err, "raw %q", tt.raw)
			continue
		}
		require.NoError(t, err, "raw %q", tt.raw)
		assert.Equal(t, tt.want, got)
	}
}
