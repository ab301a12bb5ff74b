package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func exec(b *Breaker, fn func() error) error {
	return b.ExecuteWithContext(context.Background(), func(context.Context) error {
		return fn()
	})
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"Closed state", StateClosed, "CLOSED"},
		{"Open state", StateOpen, "OPEN"},
		{"Half-open state", StateHalfOpen, "HALF_OPEN"},
		{"Unknown state", State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.state.String()
			if result != tt.want {
				t.Errorf("State.String() = %q, want %q", result, tt.want)
			}
		})
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker("primary", Config{})

	if b.name != "primary" {
		t.Errorf("name = %q, want %q", b.name, "primary")
	}
	if b.state != StateClosed {
		t.Errorf("initial state = %v, want %v", b.state, StateClosed)
	}
	if b.config.MaxRequests != 1 {
		t.Errorf("default MaxRequests = %d, want 1", b.config.MaxRequests)
	}
	if b.config.Interval != 60*time.Second {
		t.Errorf("default Interval = %v, want %v", b.config.Interval, 60*time.Second)
	}
	if b.config.Timeout != 60*time.Second {
		t.Errorf("default Timeout = %v, want %v", b.config.Timeout, 60*time.Second)
	}
	if b.config.ReadyToTrip == nil {
		t.Error("default ReadyToTrip should not be nil")
	}
	if b.config.IsSuccessful == nil {
		t.Error("default IsSuccessful should not be nil")
	}
}

func TestNewBreaker_CustomConfig(t *testing.T) {
	t.Parallel()

	config := Config{
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
	}

	b := NewBreaker("replica-0", config)

	if b.config.MaxRequests != 5 {
		t.Errorf("MaxRequests = %d, want 5", b.config.MaxRequests)
	}
	if b.config.Interval != 10*time.Second {
		t.Errorf("Interval = %v, want %v", b.config.Interval, 10*time.Second)
	}
	if b.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want %v", b.config.Timeout, 30*time.Second)
	}
}

func TestDefaultReadyToTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		counts   Counts
		wantTrip bool
	}{
		{
			name:     "not enough requests",
			counts:   Counts{Requests: 10, TotalFailures: 5},
			wantTrip: false,
		},
		{
			name:     "enough requests but low failure rate",
			counts:   Counts{Requests: 20, TotalFailures: 8},
			wantTrip: false,
		},
		{
			name:     "should trip - 50% failure threshold",
			counts:   Counts{Requests: 20, TotalFailures: 10},
			wantTrip: true,
		},
		{
			name:     "should trip - above threshold",
			counts:   Counts{Requests: 100, TotalFailures: 60},
			wantTrip: true,
		},
		{
			name:     "zero requests",
			counts:   Counts{Requests: 0, TotalFailures: 0},
			wantTrip: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := defaultReadyToTrip(tt.counts)
			if result != tt.wantTrip {
				t.Errorf("defaultReadyToTrip() = %v, want %v", result, tt.wantTrip)
			}
		})
	}
}

func TestDefaultIsSuccessful(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is successful", nil, true},
		{"non-nil error is not successful", errors.New("test error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := defaultIsSuccessful(tt.err)
			if result != tt.want {
				t.Errorf("defaultIsSuccessful() = %v, want %v", result, tt.want)
			}
		})
	}
}

func TestBreaker_ExecuteWithContext_Success(t *testing.T) {
	t.Parallel()

	b := NewBreaker("primary", Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
	})

	callCount := 0
	err := exec(b, func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("ExecuteWithContext() error = %v, want nil", err)
	}
	if callCount != 1 {
		t.Errorf("function called %d times, want 1", callCount)
	}

	counts := b.Counts()
	if counts.Requests != 1 {
		t.Errorf("Requests = %d, want 1", counts.Requests)
	}
	if counts.TotalSuccesses != 1 {
		t.Errorf("TotalSuccesses = %d, want 1", counts.TotalSuccesses)
	}
}

func TestBreaker_ExecuteWithContext_Failure(t *testing.T) {
	t.Parallel()

	b := NewBreaker("primary", Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
	})

	testErr := errors.New("backend unavailable")
	err := exec(b, func() error {
		return testErr
	})

	if err != testErr {
		t.Errorf("ExecuteWithContext() error = %v, want %v", err, testErr)
	}

	counts := b.Counts()
	if counts.TotalFailures != 1 {
		t.Errorf("TotalFailures = %d, want 1", counts.TotalFailures)
	}
}

func TestBreaker_StateTransitions(t *testing.T) {
	t.Parallel()

	b := NewBreaker("replica-0", Config{
		MaxRequests: 2,
		Interval:    100 * time.Millisecond,
		Timeout:     100 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			// Trip after 3 consecutive failures.
			return counts.ConsecutiveFailures >= 3
		},
	})

	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want %v", b.State(), StateClosed)
	}

	for i := 0; i < 3; i++ {
		_ = exec(b, func() error {
			return errors.New("upload failed")
		})
	}

	if b.State() != StateOpen {
		t.Errorf("state after failures = %v, want %v", b.State(), StateOpen)
	}

	time.Sleep(150 * time.Millisecond)

	if b.State() != StateHalfOpen {
		t.Errorf("state after timeout = %v, want %v", b.State(), StateHalfOpen)
	}

	err := exec(b, func() error {
		return nil
	})
	if err != nil {
		t.Errorf("ExecuteWithContext in half-open failed: %v", err)
	}

	if b.State() != StateClosed {
		t.Errorf("state after success in half-open = %v, want %v", b.State(), StateClosed)
	}
}

func TestBreaker_OpenState_RejectsRequests(t *testing.T) {
	t.Parallel()

	b := NewBreaker("replica-0", Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})

	for i := 0; i < 2; i++ {
		_ = exec(b, func() error {
			return errors.New("upload failed")
		})
	}

	callCount := 0
	err := exec(b, func() error {
		callCount++
		return nil
	})

	if err != ErrOpenState {
		t.Errorf("ExecuteWithContext() error = %v, want %v", err, ErrOpenState)
	}
	if callCount != 0 {
		t.Error("function should not have been called when breaker is open")
	}
}

func TestBreaker_HalfOpen_TooManyRequests(t *testing.T) {
	t.Parallel()

	b := NewBreaker("replica-0", Config{
		MaxRequests: 1,
		Interval:    50 * time.Millisecond,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})

	_ = exec(b, func() error {
		return errors.New("upload failed")
	})

	time.Sleep(100 * time.Millisecond)

	started := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = exec(b, func() error {
			close(started)
			<-done
			return nil
		})
	}()

	<-started

	err2 := exec(b, func() error {
		return nil
	})

	close(done)

	if err2 != ErrTooManyRequests {
		t.Errorf("second request error = %v, want %v", err2, ErrTooManyRequests)
	}
}

func TestBreaker_ExecuteWithContext_PassesContext(t *testing.T) {
	t.Parallel()

	b := NewBreaker("primary", Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
	})

	ctx := context.Background()
	ctxReceived := false

	err := b.ExecuteWithContext(ctx, func(receivedCtx context.Context) error {
		if receivedCtx == ctx {
			ctxReceived = true
		}
		return nil
	})

	if err != nil {
		t.Errorf("ExecuteWithContext() error = %v, want nil", err)
	}
	if !ctxReceived {
		t.Error("context was not passed to function")
	}
}

func TestBreaker_Name(t *testing.T) {
	t.Parallel()

	b := NewBreaker("replica-1", Config{})
	if b.Name() != "replica-1" {
		t.Errorf("Name() = %q, want %q", b.Name(), "replica-1")
	}
}

func TestCounts_Operations(t *testing.T) {
	t.Parallel()

	counts := Counts{}

	counts.onRequest()
	if counts.Requests != 1 {
		t.Errorf("Requests = %d, want 1", counts.Requests)
	}
	if counts.LastActivity.IsZero() {
		t.Error("LastActivity not set after onRequest")
	}

	counts.onSuccess()
	if counts.TotalSuccesses != 1 {
		t.Errorf("TotalSuccesses = %d, want 1", counts.TotalSuccesses)
	}
	if counts.ConsecutiveSuccesses != 1 {
		t.Errorf("ConsecutiveSuccesses = %d, want 1", counts.ConsecutiveSuccesses)
	}
	if counts.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", counts.ConsecutiveFailures)
	}

	counts.onFailure()
	if counts.TotalFailures != 1 {
		t.Errorf("TotalFailures = %d, want 1", counts.TotalFailures)
	}
	if counts.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", counts.ConsecutiveFailures)
	}
	if counts.ConsecutiveSuccesses != 0 {
		t.Errorf("ConsecutiveSuccesses = %d, want 0 after failure", counts.ConsecutiveSuccesses)
	}

	counts.clear()
	if counts.Requests != 0 || counts.TotalSuccesses != 0 || counts.TotalFailures != 0 {
		t.Error("counts not properly cleared")
	}
	if !counts.LastActivity.IsZero() {
		t.Error("LastActivity not cleared")
	}
}

func TestNewManager(t *testing.T) {
	t.Parallel()

	config := Config{
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
	}

	manager := NewManager(config)

	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if manager.breakers == nil {
		t.Error("breakers map is nil")
	}
	if manager.config.MaxRequests != 5 {
		t.Errorf("config.MaxRequests = %d, want 5", manager.config.MaxRequests)
	}
}

func TestManager_GetBreaker(t *testing.T) {
	t.Parallel()

	manager := NewManager(Config{})

	b1 := manager.GetBreaker("primary")
	if b1 == nil {
		t.Fatal("GetBreaker returned nil")
	}
	if b1.Name() != "primary" {
		t.Errorf("breaker name = %q, want %q", b1.Name(), "primary")
	}

	b2 := manager.GetBreaker("primary")
	if b1 != b2 {
		t.Error("GetBreaker returned different instance for same name")
	}

	b3 := manager.GetBreaker("replica-0")
	if b3 == b1 {
		t.Error("GetBreaker returned same instance for different name")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	manager := NewManager(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			b := manager.GetBreaker("replica-concurrent")
			_ = exec(b, func() error {
				time.Sleep(time.Millisecond)
				return nil
			})
		}(i)
	}
	wg.Wait()

	b := manager.GetBreaker("replica-concurrent")
	if b.Counts().Requests != 10 {
		t.Errorf("concurrent requests recorded = %d, want 10", b.Counts().Requests)
	}
}
