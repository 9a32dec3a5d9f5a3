package stat

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatistics_Observe(t *testing.T) {
	s := New()

	s.Observe(100)
	s.Observe(50)
	s.Observe(0)

	assert.Equal(t, int64(3), s.Messages())
	assert.Equal(t, int64(150), s.Bytes())
}

func TestStatistics_ConcurrentObserve(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.Observe(10)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8000), s.Messages())
	assert.Equal(t, int64(80000), s.Bytes())
}

func TestStatistics_Reset(t *testing.T) {
	s := New()
	s.Observe(100)

	s.Reset()

	assert.Equal(t, int64(0), s.Messages())
	assert.Equal(t, int64(0), s.Bytes())
}

func TestStatistics_Summary(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		s.Observe(1000)
	}

	summary := s.Summary()
	require.True(t, strings.HasPrefix(summary, "10 messages"), summary)
	assert.Contains(t, summary, "0.01 MB")
	assert.Contains(t, summary, "msg/s")
	assert.Contains(t, summary, "MB/s")
}
