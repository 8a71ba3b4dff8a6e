package broker

// Broker is the outbound collaborator that accepts slice orders. It is a
// black box to the engine: at most one call is made per slice per
// successful claim, and no retry wrapper sits in front of it.
type Broker interface {
	PlaceOrder(exchange, symbol, side string, quantity int64) (string, error)
}

// BrokerError is a rejection or transport failure reported by the broker.
// It is terminal for the slice that triggered the call.
type BrokerError struct {
	Message string
}

func (e *BrokerError) Error() string {
	return e.Message
}
