package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aicarelung/internal/store"
	"github.com/rs/zerolog"
)

var testLoc = time.FixedZone("CST", 8*3600)

// newTestStore 返回一个模拟表格数值强转的内存存储。
func newTestStore(t *testing.T) (*store.Store, *store.MemoryBackend) {
	t.Helper()
	backend := store.NewMemoryBackend()
	backend.Coerce = true
	st := store.New(backend, store.Options{
		Logger:          zerolog.Nop(),
		Timeout:         time.Second,
		BreakerFailures: 1000,
	})
	return st, backend
}

// readFailingBackend 在 failReads 置位后让整表读取失败，追加与改写照常成功。
type readFailingBackend struct {
	*store.MemoryBackend
	failReads atomic.Bool
}

func (b *readFailingBackend) ReadAll(ctx context.Context, table string) ([][]string, error) {
	if b.failReads.Load() {
		return nil, errors.New("read timed out")
	}
	return b.MemoryBackend.ReadAll(ctx, table)
}

func newReadFailingStore(t *testing.T) (*store.Store, *readFailingBackend) {
	t.Helper()
	backend := &readFailingBackend{MemoryBackend: store.NewMemoryBackend()}
	st := store.New(backend, store.Options{
		Logger:          zerolog.Nop(),
		Timeout:         time.Second,
		BreakerFailures: 1000,
	})
	return st, backend
}

type testClock struct {
	now time.Time
}

func newTestClock(hour int) *testClock {
	return &testClock{now: time.Date(2026, 10, 18, hour, 0, 0, 0, testLoc)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func seedPatient(backend *store.MemoryBackend, fields map[string]string) {
	values := make([]string, len(store.PatientColumns))
	for i, col := range store.PatientColumns {
		values[i] = fields[col]
	}
	backend.Seed(string(store.TablePatients), store.PatientColumns, values)
}
