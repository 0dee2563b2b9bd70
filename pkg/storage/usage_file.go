package storage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"coordmutex/pkg/models"
)

var usageLinePattern = regexp.MustCompile(`^\[(.+)\] process (-?\d+) consumed the resource\.$`)

// FileUsageLog appends one line per record to a text file, creating it on
// first use.
type FileUsageLog struct {
	mu   sync.Mutex
	path string
}

func NewFileUsageLog(path string) (*FileUsageLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create usage log directory: %w", err)
		}
	}
	return &FileUsageLog{path: path}, nil
}

func (f *FileUsageLog) Name() string { return "file" }

func (f *FileUsageLog) Path() string { return f.path }

func (f *FileUsageLog) Append(_ context.Context, record models.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open usage log: %w", err)
	}
	if _, err := file.WriteString(record.Line() + "\n"); err != nil {
		file.Close()
		return fmt.Errorf("failed to write usage log: %w", err)
	}
	return file.Close()
}

// Recent parses the newest lines back into records. Only the process id and
// timestamp survive the text format.
func (f *FileUsageLog) Recent(_ context.Context, limit int) ([]models.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return []models.UsageRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open usage log: %w", err)
	}
	defer file.Close()

	var all []models.UsageRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		m := usageLinePattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		at, err := time.ParseInLocation(models.UsageTimeLayout, m[1], time.Local)
		if err != nil {
			continue
		}
		pid, _ := strconv.Atoi(m[2])
		all = append(all, models.UsageRecord{ProcessID: pid, ConsumedAt: at})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage log: %w", err)
	}

	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]models.UsageRecord, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
