package broker

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// SimulatedBroker is a mock broker adapter with configurable latency and
// acceptance rate, used by the server and simulation when no real broker
// is wired in.
type SimulatedBroker struct {
	Name        string
	MinLatency  int // in milliseconds
	MaxLatency  int
	SuccessRate float64 // 0-1, probability of acceptance
}

// NewSimulatedBroker returns a broker with realistic default behaviour.
func NewSimulatedBroker() *SimulatedBroker {
	return &SimulatedBroker{
		Name:        "Simulated Broker",
		MinLatency:  5,
		MaxLatency:  50,
		SuccessRate: 0.95,
	}
}

// PlaceOrder simulates dispatching a slice to the broker.
func (b *SimulatedBroker) PlaceOrder(exchange, symbol, side string, quantity int64) (string, error) {
	logger := log.With().
		Str("broker", b.Name).
		Str("exchange", exchange).
		Str("symbol", symbol).
		Str("side", side).
		Int64("quantity", quantity).
		Logger()

	logger.Debug().Msg("placing order with broker")

	// Simulate random latency
	latency := rand.Intn(b.MaxLatency-b.MinLatency+1) + b.MinLatency
	time.Sleep(time.Duration(latency) * time.Millisecond)

	// Simulate rejection based on success rate
	if rand.Float64() > b.SuccessRate {
		logger.Warn().
			Float64("success_rate", b.SuccessRate).
			Msg("broker rejected order")
		return "", &BrokerError{Message: fmt.Sprintf("broker rejected %s %d %s on %s", side, quantity, symbol, exchange)}
	}

	brokerOrderID := fmt.Sprintf("BRK-%d", rand.Int63())

	logger.Info().
		Str("broker_order_id", brokerOrderID).
		Int("latency_ms", latency).
		Msg("order accepted by broker")

	return brokerOrderID, nil
}
