package nats_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	natsgw "github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/gateway/nats"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
)

type fakeConn struct {
	mu        sync.Mutex
	connected bool
	failWith  error
	subjects  []string
	payloads  [][]byte
	flushed   bool
	closed    bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) FlushTimeout(time.Duration) error {
	c.flushed = true
	return nil
}

func (c *fakeConn) Close() {
	c.closed = true
}

func TestGateway_PublishEncodesSnapshot(t *testing.T) {
	conn := &fakeConn{connected: true}
	gw := natsgw.NewGateway(conn, "dcs.snapshot", "plant-a", time.Second)
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	snapshot := map[string]tag.Value{
		"granulator.jacket.temperature": {Value: 61.5, Quality: tag.QualityGood, Timestamp: ts},
	}
	require.NoError(t, gw.Publish(context.Background(), snapshot))
	require.NoError(t, gw.Publish(context.Background(), snapshot))

	require.Len(t, conn.payloads, 2)
	assert.Equal(t, []string{"dcs.snapshot", "dcs.snapshot"}, conn.subjects)

	var msg natsgw.Message
	require.NoError(t, json.Unmarshal(conn.payloads[1], &msg))
	assert.Equal(t, "plant-a", msg.Source)
	assert.Equal(t, uint64(2), msg.Sequence)
	assert.InDelta(t, 61.5, msg.Tags["granulator.jacket.temperature"].Value, 1e-9)
	assert.True(t, gw.Healthy())
}

func TestGateway_UnhealthyAfterFailure(t *testing.T) {
	conn := &fakeConn{connected: true, failWith: errors.New("slow consumer")}
	gw := natsgw.NewGateway(conn, "dcs.snapshot", "plant-a", time.Second)

	err := gw.Publish(context.Background(), map[string]tag.Value{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow consumer")
	assert.False(t, gw.Healthy())

	conn.mu.Lock()
	conn.failWith = nil
	conn.mu.Unlock()
	require.NoError(t, gw.Publish(context.Background(), map[string]tag.Value{}))
	assert.True(t, gw.Healthy())
}

func TestGateway_DisconnectedAndCancelled(t *testing.T) {
	conn := &fakeConn{connected: false}
	gw := natsgw.NewGateway(conn, "dcs.snapshot", "plant-a", time.Second)

	err := gw.Publish(context.Background(), map[string]tag.Value{})
	require.Error(t, err)
	assert.False(t, gw.Healthy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn.connected = true
	assert.ErrorIs(t, gw.Publish(ctx, map[string]tag.Value{}), context.Canceled)
	assert.Empty(t, conn.payloads)
}

func TestGateway_CloseFlushes(t *testing.T) {
	conn := &fakeConn{connected: true}
	gw := natsgw.NewGateway(conn, "dcs.snapshot", "plant-a", time.Second)
	require.NoError(t, gw.Close())
	assert.True(t, conn.flushed)
	assert.True(t, conn.closed)
}
