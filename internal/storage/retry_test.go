package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithRetry_EventualSuccess(t *testing.T) {
	attempts := 0
	fs := &fakeStore{}
	Register("fake_retry_eventual", func(context.Context, Config) (Store, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return fs, nil
	})

	var retried []int
	s, err := OpenWithRetry(context.Background(), Config{Kind: "fake_retry_eventual"}, 5, time.Millisecond,
		func(attempt int, err error) { retried = append(retried, attempt) })
	require.NoError(t, err)
	assert.Same(t, fs, s)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestOpenWithRetry_AllAttemptsFail(t *testing.T) {
	want := errors.New("no route to host")
	attempts := 0
	Register("fake_retry_fail", func(context.Context, Config) (Store, error) {
		attempts++
		return nil, want
	})

	_, err := OpenWithRetry(context.Background(), Config{Kind: "fake_retry_fail"}, 3, time.Millisecond, nil)
	require.ErrorIs(t, err, want)
	assert.Equal(t, 3, attempts)
}

func TestOpenWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	Register("fake_retry_cancel", func(context.Context, Config) (Store, error) {
		cancel()
		return nil, errors.New("timeout")
	})

	_, err := OpenWithRetry(ctx, Config{Kind: "fake_retry_cancel"}, 5, time.Hour, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenWithRetry_InvalidAttempts(t *testing.T) {
	_, err := OpenWithRetry(context.Background(), Config{Kind: "x"}, 0, time.Millisecond, nil)
	require.ErrorIs(t, err, ErrInvalidMaxAttempts)
}
