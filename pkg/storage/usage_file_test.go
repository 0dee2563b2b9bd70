package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coordmutex/pkg/models"
)

func TestFileUsageLog_CreatesFileOnFirstAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "usage.txt")
	log, err := NewFileUsageLog(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	require.NoError(t, log.Append(context.Background(), models.NewUsageRecord(3, 1, time.Second, at)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[09/03/2024 14:05:07] process 3 consumed the resource.\n", string(data))
}

func TestFileUsageLog_AppendsConcurrentlyWithoutTornLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.txt")
	log, err := NewFileUsageLog(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			assert.NoError(t, log.Append(context.Background(), models.NewUsageRecord(pid, uint64(pid), 0, time.Now())))
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 50)
	for _, l := range lines {
		assert.Regexp(t, usageLinePattern, l)
	}
}

func TestFileUsageLog_RecentNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.txt")
	log, err := NewFileUsageLog(path)
	require.NoError(t, err)
	ctx := context.Background()

	recs, err := log.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, recs)

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.Local)
	for i := 1; i <= 4; i++ {
		require.NoError(t, log.Append(ctx, models.NewUsageRecord(i, uint64(i), 0, base.Add(time.Duration(i)*time.Second))))
	}

	recs, err = log.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 4, recs[0].ProcessID)
	assert.Equal(t, 3, recs[1].ProcessID)
	assert.True(t, recs[0].ConsumedAt.Equal(base.Add(4*time.Second)))

	recs, err = log.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 4)
}
