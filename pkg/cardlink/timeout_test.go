package cardlink

import (
	"errors"
	"testing"
	"time"
)

type slowLink struct {
	delay time.Duration
}

func (s *slowLink) Transmit([]byte) ([]byte, error) {
	time.Sleep(s.delay)
	return []byte{0x90, 0x00}, nil
}
func (s *slowLink) Reset() ([]byte, error)   { return []byte{0x3B}, nil }
func (s *slowLink) IsPresent() (bool, error) { return true, nil }
func (s *slowLink) Close() error             { return nil }

func TestWithTimeout(t *testing.T) {
	t.Run("fast exchange passes through", func(t *testing.T) {
		link := WithTimeout(&slowLink{delay: time.Millisecond}, time.Second, nil)
		resp, err := link.Transmit([]byte{0x00, 0x70, 0x00, 0x00, 0x01})
		if err != nil {
			t.Fatalf("Transmit() error = %v", err)
		}
		if len(resp) != 2 {
			t.Errorf("resp = % X", resp)
		}
	})

	t.Run("slow exchange times out", func(t *testing.T) {
		link := WithTimeout(&slowLink{delay: time.Second}, 10*time.Millisecond, nil)
		if _, err := link.Transmit([]byte{0x00, 0x70, 0x00, 0x00, 0x01}); !errors.Is(err, ErrCommunication) {
			t.Errorf("Transmit() error = %v, want ErrCommunication", err)
		}
	})
}
