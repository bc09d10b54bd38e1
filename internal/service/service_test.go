package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/framewire/internal/dispatch"
)

type wakeCounter chan struct{}

func (w wakeCounter) wake() {
	select {
	case w <- struct{}{}:
	default:
	}
}

func TestInFlightLimit(t *testing.T) {
	release := make(chan struct{})
	inner := dispatch.HandlerFunc[string, string](func(_ context.Context, req string) (string, error) {
		<-release
		return req, nil
	})
	svc := InFlight[string, string](inner, 2)
	woken := make(wakeCounter, 1)

	ready, err := svc.Ready(woken.wake)
	require.NoError(t, err)
	require.True(t, ready)

	f1 := svc.Call(context.Background(), "a")
	_ = svc.Call(context.Background(), "b")

	ready, err = svc.Ready(woken.wake)
	require.NoError(t, err)
	assert.False(t, ready, "limit reached")

	done := make(chan string, 1)
	go func() {
		resp, _ := f1()
		done <- resp
	}()
	close(release)

	assert.Equal(t, "a", <-done)
	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatal("completion did not wake the dispatcher")
	}
	ready, _ = svc.Ready(woken.wake)
	assert.True(t, ready)
}

func TestInFlightReleasesOnPanic(t *testing.T) {
	inner := dispatch.HandlerFunc[string, string](func(context.Context, string) (string, error) {
		panic("handler bug")
	})
	svc := InFlight[string, string](inner, 1)

	fut := svc.Call(context.Background(), "a")
	assert.Panics(t, func() { _, _ = fut() })

	ready, err := svc.Ready(func() {})
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestInFlightDisabled(t *testing.T) {
	inner := dispatch.HandlerFunc[string, string](func(_ context.Context, req string) (string, error) { return req, nil })
	assert.IsType(t, inner, InFlight[string, string](inner, 0))
}

func TestTimeout(t *testing.T) {
	unblock := make(chan struct{})
	t.Cleanup(func() { close(unblock) })

	var sawDeadline bool
	inner := dispatch.HandlerFunc[string, string](func(ctx context.Context, req string) (string, error) {
		_, sawDeadline = ctx.Deadline()
		if req == "slow" {
			<-unblock
		}
		return req + "-done", nil
	})
	svc := Timeout[string, string](inner, 20*time.Millisecond)

	resp, err := svc.Call(context.Background(), "fast")()
	require.NoError(t, err)
	assert.Equal(t, "fast-done", resp)
	assert.True(t, sawDeadline)

	_, err = svc.Call(context.Background(), "slow")()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTimeoutHandlerHonoursDeadline(t *testing.T) {
	inner := dispatch.HandlerFunc[string, string](func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := Timeout[string, string](inner, 10*time.Millisecond).Call(context.Background(), "x")()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTimeoutParentCancelled(t *testing.T) {
	unblock := make(chan struct{})
	t.Cleanup(func() { close(unblock) })
	inner := dispatch.HandlerFunc[string, string](func(context.Context, string) (string, error) {
		<-unblock
		return "", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	fut := Timeout[string, string](inner, time.Hour).Call(ctx, "x")
	cancel()

	_, err := fut()
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestTimeoutPropagatesPanic(t *testing.T) {
	inner := dispatch.HandlerFunc[string, string](func(context.Context, string) (string, error) {
		panic("kaboom")
	})
	fut := Timeout[string, string](inner, time.Second).Call(context.Background(), "x")
	assert.PanicsWithValue(t, "kaboom", func() { _, _ = fut() })
}

func TestRescue(t *testing.T) {
	errBoom := errors.New("boom")
	inner := dispatch.HandlerFunc[string, string](func(_ context.Context, req string) (string, error) {
		switch req {
		case "fail":
			return "", errBoom
		case "close":
			return "", fmt.Errorf("bye: %w", dispatch.ErrClose)
		}
		return req, nil
	})
	svc := Rescue[string, string](inner, func(req string, err error) string {
		return req + ": " + err.Error()
	})

	tests := []struct {
		req     string
		want    string
		wantErr error
	}{
		{req: "ok", want: "ok"},
		{req: "fail", want: "fail: boom"},
		{req: "close", wantErr: dispatch.ErrClose},
	}
	for _, tt := range tests {
		t.Run(tt.req, func(t *testing.T) {
			got, err := svc.Call(context.Background(), tt.req)()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
