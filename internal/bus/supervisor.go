package bus

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Supervisor tracks consecutive bus I/O failures and decides when a
// connection should be torn down and re-dialed. A failure streak beyond
// the breaker's threshold opens the circuit; Reconnect then paces dial
// attempts with exponential backoff until one succeeds and the circuit
// closes again.
type Supervisor struct {
	breaker *gobreaker.CircuitBreaker
	cfg     Config
	conn    *Connection
}

// NewSupervisor builds a Supervisor with a breaker that opens after
// consecutiveFailures in a row and tries again after resetTimeout.
func NewSupervisor(cfg Config, consecutiveFailures uint32, resetTimeout time.Duration) *Supervisor {
	settings := gobreaker.Settings{
		Name:    "bus-connection",
		Timeout: resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
	}
	return &Supervisor{
		breaker: gobreaker.NewCircuitBreaker(settings),
		cfg:     cfg,
	}
}

// Connect dials the bus through the breaker: a trip here means the breaker
// is open and the dial attempt is refused without touching the network.
func (s *Supervisor) Connect() (*Connection, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return Dial(s.cfg)
	})
	if err != nil {
		return nil, err
	}
	s.conn = result.(*Connection)
	return s.conn, nil
}

// Connected reports whether the supervisor currently holds a live
// connection. It is a cheap, non-blocking check suitable for a health
// endpoint; it does not touch the socket.
func (s *Supervisor) Connected() bool {
	return s.conn != nil
}

// Reconnect closes the current connection if any, then retries Connect with
// exponential backoff until it succeeds or the retry budget is exhausted.
func (s *Supervisor) Reconnect(maxElapsed time.Duration) (*Connection, error) {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed

	var conn *Connection
	err := backoff.Retry(func() error {
		c, err := s.Connect()
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, bo)

	return conn, err
}
