// Package store 把无 schema、无事务、会偷偷强转类型的表格后端包装成行为一致的键值式记录库。
//
// 约定：
//   - 每次远程调用都有超时并经过熔断器，失败时降级为空结果 / 未找到 / 写入失败，不向调用方抛出异常；
//   - 写入后立即让该表缓存失效，保证写入方读到自己的写入；
//   - phone/password 列在每次读写时都会被规范化。
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aicarelung/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const (
	// DefaultTimeout 是单次远程调用的默认上限。
	DefaultTimeout = 10 * time.Second
	// DefaultBreakerFailures 是熔断前允许的连续失败次数。
	DefaultBreakerFailures = 5
)

// ErrUnavailable 表示后端不可达（含超时与熔断打开）。
var ErrUnavailable = errors.New("backing store unavailable")

// Options 配置 Store 的缓存、超时与熔断参数。
type Options struct {
	CacheTTL        time.Duration
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Logger          zerolog.Logger
	Metrics         *metrics.Collector
}

// Store 是对 Backend 的通用 CRUD 封装（RecordStore），读取经过 TableCache。
type Store struct {
	backend Backend
	cache   *TableCache
	breaker *gobreaker.CircuitBreaker[[][]string]
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Collector

	ensureMu sync.Mutex
	ensured  map[Table]bool
}

// New 构造 Store。
func New(backend Backend, opts Options) *Store {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = DefaultBreakerFailures
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	logger := opts.Logger.With().Str("component", "store").Logger()

	s := &Store{
		backend: backend,
		cache:   NewTableCache(opts.CacheTTL),
		timeout: timeout,
		logger:  logger,
		metrics: opts.Metrics,
		ensured: map[Table]bool{},
	}
	s.breaker = gobreaker.NewCircuitBreaker[[][]string](gobreaker.Settings{
		Name:    "backing-store",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	s.cache.onHit = func(t Table) { s.metrics.CacheHit(string(t)) }
	s.cache.onMiss = func(t Table) { s.metrics.CacheMiss(string(t)) }
	return s
}

// Invalidate 让指定表的缓存失效。
func (s *Store) Invalidate(table Table) {
	s.cache.Invalidate(table)
}

// Ping 检查后端连通性。
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.call(ctx, func(ctx context.Context) ([][]string, error) {
		return nil, s.backend.Ping(ctx)
	})
	return err
}

// GetAll 返回整表记录；后端不可用时返回空切片。
func (s *Store) GetAll(ctx context.Context, table Table) []Row {
	rows, err := s.Load(ctx, table)
	if err != nil {
		return []Row{}
	}
	return rows
}

// Load 与 GetAll 相同，但后端不可用时返回错误，供"先查后写"的存在性检查使用。
func (s *Store) Load(ctx context.Context, table Table) ([]Row, error) {
	rows, err := s.cache.Read(ctx, table, func(ctx context.Context) ([]Row, error) {
		return s.load(ctx, table)
	})
	if err != nil {
		s.fail(table, "get_all", err)
		return nil, err
	}

	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = row.clone()
	}
	return out, nil
}

// Refresh 丢弃缓存后重新读取整表，用于写入前的存在性复查。
func (s *Store) Refresh(ctx context.Context, table Table) ([]Row, error) {
	s.cache.Invalidate(table)
	return s.Load(ctx, table)
}

// Find 线性扫描整表，返回第一条 keyColumn 等于 keyValue 的记录。
func (s *Store) Find(ctx context.Context, table Table, keyColumn, keyValue string) (Row, bool) {
	row, ok, _ := s.Lookup(ctx, table, keyColumn, keyValue)
	return row, ok
}

// Lookup 与 Find 相同，但能区分"不存在"与"读取失败"。
func (s *Store) Lookup(ctx context.Context, table Table, keyColumn, keyValue string) (Row, bool, error) {
	keyValue = canonicalKey(keyColumn, keyValue)
	if keyValue == "" {
		return nil, false, nil
	}
	rows, err := s.Load(ctx, table)
	if err != nil {
		return nil, false, err
	}
	for _, row := range rows {
		if row.Get(keyColumn) == keyValue {
			return row, true, nil
		}
	}
	return nil, false, nil
}

// Append 按表的列顺序追加一行，未知键忽略、缺失键写空；返回是否写入成功。
func (s *Store) Append(ctx context.Context, table Table, values map[string]any) bool {
	defer s.cache.Invalidate(table)

	columns := Columns(table)
	if columns == nil {
		s.fail(table, "append", fmt.Errorf("unknown table %s", table))
		return false
	}

	row := make([]string, len(columns))
	for i, col := range columns {
		cell, err := encodeColumn(col, values[col])
		if err != nil {
			s.fail(table, "append", err)
			return false
		}
		row[i] = cell
	}

	if err := s.ensureTable(ctx, table); err != nil {
		s.fail(table, "append", err)
		return false
	}

	_, err := s.call(ctx, func(ctx context.Context) ([][]string, error) {
		return nil, s.backend.AppendRow(ctx, string(table), row)
	})
	if err != nil {
		s.fail(table, "append", err)
		return false
	}
	return true
}

// Update 找到第一条 keyColumn 等于 keyValue 的行并改写给定字段；返回是否写入成功。
// 定位时直接读取后端而不是缓存，避免按过期快照算错行号。
func (s *Store) Update(ctx context.Context, table Table, keyColumn, keyValue string, fields map[string]any) bool {
	defer s.cache.Invalidate(table)

	keyValue = canonicalKey(keyColumn, keyValue)
	if keyValue == "" || len(fields) == 0 {
		return false
	}

	if err := s.ensureTable(ctx, table); err != nil {
		s.fail(table, "update", err)
		return false
	}

	grid, err := s.call(ctx, func(ctx context.Context) ([][]string, error) {
		return s.backend.ReadAll(ctx, string(table))
	})
	if err != nil {
		s.fail(table, "update", err)
		return false
	}

	header := headerOf(table, grid)
	keyIdx := indexOf(header, keyColumn)
	if keyIdx < 0 {
		s.fail(table, "update", fmt.Errorf("column %s missing from %s", keyColumn, table))
		return false
	}

	rowNumber := -1
	for i := 1; i < len(grid); i++ {
		if keyIdx < len(grid[i]) && canonicalKey(keyColumn, grid[i][keyIdx]) == keyValue {
			rowNumber = i
			break
		}
	}
	if rowNumber < 0 {
		return false
	}

	known := map[string]bool{}
	for _, col := range Columns(table) {
		known[col] = true
	}

	cells := map[int]string{}
	for col, value := range fields {
		if !known[col] {
			continue
		}
		idx := indexOf(header, col)
		if idx < 0 {
			s.logger.Debug().Str("table", string(table)).Str("column", col).Msg("column missing from sheet header, skipped")
			continue
		}
		cell, err := encodeColumn(col, value)
		if err != nil {
			s.fail(table, "update", err)
			return false
		}
		cells[idx] = cell
	}
	if len(cells) == 0 {
		return false
	}

	_, err = s.call(ctx, func(ctx context.Context) ([][]string, error) {
		return nil, s.backend.UpdateCells(ctx, string(table), rowNumber, cells)
	})
	if err != nil {
		s.fail(table, "update", err)
		return false
	}
	return true
}

func (s *Store) load(ctx context.Context, table Table) ([]Row, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}

	grid, err := s.call(ctx, func(ctx context.Context) ([][]string, error) {
		return s.backend.ReadAll(ctx, string(table))
	})
	if err != nil {
		return nil, err
	}
	return rowsFromGrid(table, grid), nil
}

func (s *Store) ensureTable(ctx context.Context, table Table) error {
	s.ensureMu.Lock()
	done := s.ensured[table]
	s.ensureMu.Unlock()
	if done {
		return nil
	}

	columns := Columns(table)
	if columns == nil {
		return fmt.Errorf("unknown table %s", table)
	}
	_, err := s.call(ctx, func(ctx context.Context) ([][]string, error) {
		return nil, s.backend.EnsureTable(ctx, string(table), columns)
	})
	if err != nil {
		return err
	}

	s.ensureMu.Lock()
	s.ensured[table] = true
	s.ensureMu.Unlock()
	return nil
}

// call 在超时与熔断保护下执行一次后端调用；即使后端不响应 ctx 也会在超时后返回。
func (s *Store) call(ctx context.Context, fn func(context.Context) ([][]string, error)) ([][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	grid, err := s.breaker.Execute(func() ([][]string, error) {
		type result struct {
			grid [][]string
			err  error
		}
		done := make(chan result, 1)
		go func() {
			g, err := fn(ctx)
			done <- result{grid: g, err: err}
		}()

		select {
		case r := <-done:
			return r.grid, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return grid, nil
}

func (s *Store) fail(table Table, op string, err error) {
	s.metrics.StoreFailure(string(table), op)
	s.logger.Error().Err(err).Str("table", string(table)).Str("op", op).Msg("store operation degraded")
}

func rowsFromGrid(table Table, grid [][]string) []Row {
	if len(grid) == 0 {
		return []Row{}
	}
	header := headerOf(table, grid)
	columns := Columns(table)

	rows := make([]Row, 0, len(grid)-1)
	for _, raw := range grid[1:] {
		if isBlank(raw) {
			continue
		}
		row := make(Row, len(header))
		for i, col := range header {
			if col == "" {
				continue
			}
			if i < len(raw) {
				row[col] = strings.TrimSpace(raw[i])
			} else {
				row[col] = ""
			}
		}
		for _, col := range columns {
			if _, ok := row[col]; !ok {
				row[col] = ""
			}
		}
		for col, canon := range identityColumns {
			if v, ok := row[col]; ok {
				row[col] = canon(v)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// headerOf 读取表头；表头缺失时退回到固定列定义。
func headerOf(table Table, grid [][]string) []string {
	if len(grid) == 0 || isBlank(grid[0]) {
		return Columns(table)
	}
	header := make([]string, len(grid[0]))
	for i, col := range grid[0] {
		header[i] = strings.TrimSpace(col)
	}
	return header
}

func encodeColumn(column string, value any) (string, error) {
	if canon, ok := identityColumns[column]; ok {
		return canon(value), nil
	}
	return encodeCell(value)
}

func canonicalKey(column, value string) string {
	if canon, ok := identityColumns[column]; ok {
		return canon(value)
	}
	return strings.TrimSpace(value)
}

func indexOf(header []string, column string) int {
	for i, col := range header {
		if col == column {
			return i
		}
	}
	return -1
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
