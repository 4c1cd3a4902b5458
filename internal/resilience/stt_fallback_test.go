package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/mkarols/notula/pkg/provider/stt"
	sttmock "github.com/mkarols/notula/pkg/provider/stt/mock"
)

func TestSTTFallback_StartStream_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "whisperlive", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper", secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == nil {
		t.Fatal("handle is nil")
	}
	if primary.Last() == nil {
		t.Fatal("primary was not used")
	}
	if secondary.Last() != nil {
		t.Fatal("secondary should not have been used")
	}
	_ = handle.Close()
}

func TestSTTFallback_StartStream_Failover(t *testing.T) {
	primary := &sttmock.Provider{StartErr: errors.New("primary down")}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "whisperlive", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper", secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == nil {
		t.Fatal("handle is nil")
	}
	sess := secondary.Last()
	if sess == nil {
		t.Fatal("secondary was not used")
	}
	if sess.Config.SampleRate != 16000 {
		t.Errorf("fallback session sample rate = %d, want 16000", sess.Config.SampleRate)
	}
	_ = handle.Close()
}

func TestSTTFallback_StartStream_AllFail(t *testing.T) {
	primary := &sttmock.Provider{StartErr: errors.New("primary down")}
	secondary := &sttmock.Provider{StartErr: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "whisperlive", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper", secondary)

	_, err := fb.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &sttmock.Provider{StartErr: errors.New("primary down")}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "whisperlive", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("whisper", secondary)

	// First call trips the primary's breaker, second call must not retry it.
	if _, err := fb.StartStream(context.Background(), stt.StreamConfig{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	primary.StartErr = nil
	if _, err := fb.StartStream(context.Background(), stt.StreamConfig{}); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if primary.Last() != nil {
		t.Error("primary with open breaker should have been skipped")
	}
}
