package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedBrokerAcceptsOrders(t *testing.T) {
	b := &SimulatedBroker{
		Name:        "Test Broker",
		MinLatency:  0,
		MaxLatency:  1,
		SuccessRate: 1.0,
	}

	id, err := b.PlaceOrder("NSE", "SBIN", "BUY", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestSimulatedBrokerRejectsOrders(t *testing.T) {
	b := &SimulatedBroker{
		Name:        "Test Broker",
		MinLatency:  0,
		MaxLatency:  1,
		SuccessRate: 0,
	}

	id, err := b.PlaceOrder("NSE", "SBIN", "SELL", 100)
	require.Error(t, err)
	assert.Empty(t, id)

	var brokerErr *BrokerError
	assert.ErrorAs(t, err, &brokerErr)
}
