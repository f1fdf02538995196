package cardlink

import (
	"fmt"
	"time"

	"github.com/pion/logging"
)

// DefaultTransmitTimeout bounds one card exchange when the caller does
// not configure a timeout.
const DefaultTransmitTimeout = 10 * time.Second

// timeoutLink enforces a per-exchange deadline on an underlying link.
type timeoutLink struct {
	inner   Link
	timeout time.Duration
	log     logging.LeveledLogger
}

// WithTimeout wraps link so every Transmit and Reset fails with
// ErrCommunication after d. The underlying exchange cannot be aborted;
// on timeout its goroutine is abandoned and its eventual result
// discarded, so a timed-out link should be reset before reuse.
func WithTimeout(link Link, d time.Duration, lf logging.LoggerFactory) Link {
	if d <= 0 {
		d = DefaultTransmitTimeout
	}
	t := &timeoutLink{inner: link, timeout: d}
	if lf != nil {
		t.log = lf.NewLogger("cardlink")
	}
	return t
}

type result struct {
	data []byte
	err  error
}

func (t *timeoutLink) call(op string, fn func() ([]byte, error)) ([]byte, error) {
	ch := make(chan result, 1)
	go func() {
		data, err := fn()
		ch <- result{data, err}
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-timer.C:
		if t.log != nil {
			t.log.Warnf("%s timed out after %v", op, t.timeout)
		}
		return nil, fmt.Errorf("%w: %s timed out after %v", ErrCommunication, op, t.timeout)
	}
}

func (t *timeoutLink) Transmit(cmd []byte) ([]byte, error) {
	return t.call("transmit", func() ([]byte, error) { return t.inner.Transmit(cmd) })
}

func (t *timeoutLink) Reset() ([]byte, error) {
	return t.call("reset", func() ([]byte, error) { return t.inner.Reset() })
}

func (t *timeoutLink) IsPresent() (bool, error) {
	return t.inner.IsPresent()
}

func (t *timeoutLink) Close() error {
	return t.inner.Close()
}
