package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45_000))
	assert.Equal(t, "5m30s", FormatDuration(330_000))
	assert.Equal(t, "1h23m45s", FormatDuration(5_025_000))
	assert.Equal(t, "0s", FormatDuration(500))
}

func TestSleepCancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, 10_000)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepCompletes(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 10))
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestGenerateJitterSymmetric(t *testing.T) {
	for i := 0; i < 1000; i++ {
		j := GenerateJitter(10_000)
		assert.GreaterOrEqual(t, j, int64(-5_000))
		assert.Less(t, j, int64(5_000))
	}
	assert.Zero(t, GenerateJitter(0))
}

func TestGenerateJitterPositive(t *testing.T) {
	for i := 0; i < 1000; i++ {
		j := GenerateJitterPositive(1_000)
		assert.GreaterOrEqual(t, j, int64(0))
		assert.Less(t, j, int64(1_000))
	}
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "j***@example.com", MaskEmail("jane@example.com"))
	assert.Equal(t, "a***@example.com", MaskEmail("a@example.com"))
	assert.Equal(t, "***", MaskEmail("not-an-email"))
}
