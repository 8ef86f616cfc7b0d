package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T, backend Backend) *Store {
	t.Helper()
	return New(backend, Options{
		CacheTTL: time.Minute,
		Timeout:  200 * time.Millisecond,
		Logger:   zerolog.Nop(),
	})
}

// countingBackend 统计 ReadAll 次数，用于验证缓存命中。
type countingBackend struct {
	*MemoryBackend
	reads atomic.Int32
}

func (c *countingBackend) ReadAll(ctx context.Context, table string) ([][]string, error) {
	c.reads.Add(1)
	return c.MemoryBackend.ReadAll(ctx, table)
}

// blockingBackend 的 ReadAll 永不返回，模拟挂起的远程连接。
type blockingBackend struct {
	*MemoryBackend
}

func (b *blockingBackend) ReadAll(context.Context, string) ([][]string, error) {
	select {}
}

func TestStoreAppendProjectsOntoSchema(t *testing.T) {
	backend := NewMemoryBackend()
	st := newTestStore(t, backend)
	ctx := context.Background()

	ok := st.Append(ctx, TableReports, map[string]any{
		"report_id":     "R1",
		"patient_id":    "P1",
		"overall_score": 7,
		"symptoms":      []string{"呼吸困難", "疼痛"},
		"unknown_field": "dropped",
	})
	if !ok {
		t.Fatal("expected append to succeed")
	}

	grid, err := backend.ReadAll(ctx, string(TableReports))
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(grid) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(grid))
	}
	if len(grid[1]) != len(ReportColumns) {
		t.Fatalf("expected %d cells, got %d", len(ReportColumns), len(grid[1]))
	}
	for _, cell := range grid[1] {
		if cell == "dropped" {
			t.Fatal("unknown key should not be written")
		}
	}

	row, found := st.Find(ctx, TableReports, "report_id", "R1")
	if !found {
		t.Fatal("expected to find appended report")
	}
	if row.Int("overall_score") != 7 {
		t.Fatalf("unexpected score %q", row.Get("overall_score"))
	}
	symptoms := row.List("symptoms")
	if len(symptoms) != 2 || symptoms[0] != "呼吸困難" {
		t.Fatalf("unexpected symptoms %v", symptoms)
	}
	if row.Get("alert_level") != "" {
		t.Fatalf("missing key should be empty, got %q", row.Get("alert_level"))
	}
}

func TestStoreNormalizesCoercedIdentityColumns(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Coerce = true
	st := newTestStore(t, backend)
	ctx := context.Background()

	if !st.Append(ctx, TablePatients, map[string]any{
		"patient_id": "P5678",
		"phone":      "0912345678",
		"password":   "1234",
	}) {
		t.Fatal("expected append to succeed")
	}

	grid, _ := backend.ReadAll(ctx, string(TablePatients))
	if grid[1][2] != "912345678.0" {
		t.Fatalf("expected backend to coerce phone, got %q", grid[1][2])
	}

	row, ok := st.Find(ctx, TablePatients, "phone", "912345678")
	if !ok {
		t.Fatal("expected to find patient by coerced phone")
	}
	if row.Get("phone") != "0912345678" {
		t.Fatalf("phone not normalized: %q", row.Get("phone"))
	}
	if row.Get("password") != "1234" {
		t.Fatalf("password not normalized: %q", row.Get("password"))
	}
}

func TestStoreReadYourWritesWithinTTL(t *testing.T) {
	backend := &countingBackend{MemoryBackend: NewMemoryBackend()}
	st := newTestStore(t, backend)
	ctx := context.Background()

	if rows := st.GetAll(ctx, TableEducation); len(rows) != 0 {
		t.Fatalf("expected empty table, got %d rows", len(rows))
	}
	st.GetAll(ctx, TableEducation)
	if got := backend.reads.Load(); got != 1 {
		t.Fatalf("expected second read to hit cache, backend reads=%d", got)
	}

	if !st.Append(ctx, TableEducation, map[string]any{"push_id": "E1", "patient_id": "P1"}) {
		t.Fatal("expected append to succeed")
	}

	rows := st.GetAll(ctx, TableEducation)
	if len(rows) != 1 || rows[0].Get("push_id") != "E1" {
		t.Fatalf("expected new row to be visible immediately, got %v", rows)
	}
}

func TestTableCacheExpiresAfterTTL(t *testing.T) {
	cache := NewTableCache(time.Minute)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	cache.SetClock(func() time.Time { return now })

	loads := 0
	load := func(context.Context) ([]Row, error) {
		loads++
		return []Row{{"n": "x"}}, nil
	}

	ctx := context.Background()
	cache.Read(ctx, TableReports, load)
	now = now.Add(30 * time.Second)
	cache.Read(ctx, TableReports, load)
	if loads != 1 {
		t.Fatalf("expected cached snapshot, loads=%d", loads)
	}

	now = now.Add(31 * time.Second)
	cache.Read(ctx, TableReports, load)
	if loads != 2 {
		t.Fatalf("expected reload after TTL, loads=%d", loads)
	}

	cache.InvalidateAll()
	cache.Read(ctx, TableReports, load)
	if loads != 3 {
		t.Fatalf("expected reload after InvalidateAll, loads=%d", loads)
	}
}

func TestTableCacheDropsLoadStartedBeforeInvalidate(t *testing.T) {
	cache := NewTableCache(time.Minute)
	ctx := context.Background()

	_, err := cache.Read(ctx, TablePatients, func(context.Context) ([]Row, error) {
		cache.Invalidate(TablePatients)
		return []Row{{"patient_id": "stale"}}, nil
	})
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}

	rows, _ := cache.Read(ctx, TablePatients, func(context.Context) ([]Row, error) {
		return []Row{{"patient_id": "fresh"}}, nil
	})
	if len(rows) != 1 || rows[0].Get("patient_id") != "fresh" {
		t.Fatalf("stale snapshot survived invalidation: %v", rows)
	}
}

func TestStoreDegradesOnConnectionFailure(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Fail = errors.New("connection refused")
	st := newTestStore(t, backend)
	ctx := context.Background()

	if rows := st.GetAll(ctx, TablePatients); len(rows) != 0 {
		t.Fatalf("expected empty result, got %v", rows)
	}
	if _, ok := st.Find(ctx, TablePatients, "patient_id", "P1"); ok {
		t.Fatal("expected not found")
	}
	if st.Append(ctx, TablePatients, map[string]any{"patient_id": "P1"}) {
		t.Fatal("expected append to report failure")
	}
	if st.Update(ctx, TablePatients, "patient_id", "P1", map[string]any{"status": "normal"}) {
		t.Fatal("expected update to report failure")
	}
	if err := st.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestStoreBoundsHangingBackend(t *testing.T) {
	backend := &blockingBackend{MemoryBackend: NewMemoryBackend()}
	st := newTestStore(t, backend)

	start := time.Now()
	rows := st.GetAll(context.Background(), TableReports)
	if len(rows) != 0 {
		t.Fatalf("expected empty result, got %v", rows)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("call was not bounded by timeout: %s", elapsed)
	}
}

func TestStoreUpdate(t *testing.T) {
	backend := NewMemoryBackend()
	st := newTestStore(t, backend)
	ctx := context.Background()

	st.Append(ctx, TableReports, map[string]any{"report_id": "R1", "alert_level": "red", "alert_handled": "N"})
	st.Append(ctx, TableReports, map[string]any{"report_id": "R2", "alert_level": "yellow", "alert_handled": "N"})

	if !st.Update(ctx, TableReports, "report_id", "R2", map[string]any{
		"alert_handled": "Y",
		"handled_by":    "護理師王",
		"not_a_column":  "ignored",
	}) {
		t.Fatal("expected update to succeed")
	}

	row, _ := st.Find(ctx, TableReports, "report_id", "R2")
	if row.Get("alert_handled") != "Y" || row.Get("handled_by") != "護理師王" {
		t.Fatalf("update not applied: %v", row)
	}
	other, _ := st.Find(ctx, TableReports, "report_id", "R1")
	if other.Get("alert_handled") != "N" {
		t.Fatalf("unrelated row modified: %v", other)
	}

	if st.Update(ctx, TableReports, "report_id", "missing", map[string]any{"alert_handled": "Y"}) {
		t.Fatal("expected update of missing row to fail")
	}
}

func TestStoreReadsSheetWithReorderedHeader(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Seed(string(TablePatients), []string{"phone", "patient_id", "name"}, []string{"912345678", "P0001", "王小明"})
	st := newTestStore(t, backend)

	row, ok := st.Find(context.Background(), TablePatients, "patient_id", "P0001")
	if !ok {
		t.Fatal("expected to find legacy row")
	}
	if row.Get("phone") != "0912345678" || row.Get("name") != "王小明" {
		t.Fatalf("unexpected row %v", row)
	}
	if _, exists := row["surgery_date"]; !exists {
		t.Fatal("expected missing schema columns to be present as empty")
	}
}

func TestDecodeFailsSoft(t *testing.T) {
	if got := DecodeList("not json"); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
	if got := DecodeObject("[1,2"); len(got) != 0 {
		t.Fatalf("expected empty object, got %v", got)
	}
	if got := DecodeList(`["喘", 3]`); len(got) != 2 || got[1] != "3" {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("P1")

	acquired := make(chan struct{})
	go func() {
		release := km.Lock("P1")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}

	other := km.Lock("P2")
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestTableCacheSharedLoadIgnoresCallerCancellation(t *testing.T) {
	cache := NewTableCache(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows, err := cache.Read(ctx, TableReports, func(ctx context.Context) ([]Row, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []Row{{"report_id": "R1"}}, nil
	})
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected shared load to survive caller cancellation, got %v, %v", rows, err)
	}
}

func TestStoreStrictReadsReportFailure(t *testing.T) {
	backend := NewMemoryBackend()
	st := newTestStore(t, backend)
	ctx := context.Background()

	if !st.Append(ctx, TablePatients, map[string]any{"patient_id": "P1", "phone": "0912345678"}) {
		t.Fatal("expected append to succeed")
	}
	if _, ok, err := st.Lookup(ctx, TablePatients, "patient_id", "P1"); !ok || err != nil {
		t.Fatalf("expected P1 to be found, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := st.Lookup(ctx, TablePatients, "patient_id", "P2"); ok || err != nil {
		t.Fatalf("expected clean miss for P2, got ok=%v err=%v", ok, err)
	}

	backend.Fail = errors.New("connection refused")
	if _, err := st.Refresh(ctx, TablePatients); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected Refresh to return ErrUnavailable, got %v", err)
	}
	if _, ok, err := st.Lookup(ctx, TablePatients, "patient_id", "P1"); ok || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected Lookup to report the outage, got ok=%v err=%v", ok, err)
	}
	if rows := st.GetAll(ctx, TablePatients); len(rows) != 0 {
		t.Fatalf("expected GetAll to keep degrading to empty, got %v", rows)
	}
}
