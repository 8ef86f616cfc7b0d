package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrTableNotFound 表示后端中不存在指定的表。
var ErrTableNotFound = errors.New("table not found")

// Backend 是表格型后端需要满足的最小契约：整表读取、追加一行、按行号改写单元格。
// 后端不提供事务、索引或 schema 约束；行号 0 为表头，数据行从 1 开始。
type Backend interface {
	// EnsureTable 在表不存在或为空时创建表头。
	EnsureTable(ctx context.Context, table string, columns []string) error
	// ReadAll 返回整张表（含表头行）的文本网格。
	ReadAll(ctx context.Context, table string) ([][]string, error)
	// AppendRow 在表尾追加一行。
	AppendRow(ctx context.Context, table string, values []string) error
	// UpdateCells 改写第 row 行的若干单元格，键为列下标（从 0 开始）。
	UpdateCells(ctx context.Context, table string, row int, cells map[int]string) error
	// Ping 检查后端是否可达。
	Ping(ctx context.Context) error
}

// MemoryBackend 是进程内的表格后端，用于测试与本地演示。
// Coerce 为 true 时模拟表格服务的数值强转：纯数字文本丢失前导零并以 "N.0" 形式读回。
type MemoryBackend struct {
	mu     sync.RWMutex
	tables map[string][][]string

	Coerce bool
	// Fail 非 nil 时所有调用都返回该错误，用于模拟连接中断。
	Fail error
}

// NewMemoryBackend 构造空的内存后端。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: map[string][][]string{}}
}

func (m *MemoryBackend) EnsureTable(_ context.Context, table string, columns []string) error {
	if m.Fail != nil {
		return m.Fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if rows, ok := m.tables[table]; ok && len(rows) > 0 {
		return nil
	}
	header := make([]string, len(columns))
	copy(header, columns)
	m.tables[table] = [][]string{header}
	return nil
}

func (m *MemoryBackend) ReadAll(_ context.Context, table string) ([][]string, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	out := make([][]string, len(rows))
	for i, row := range rows {
		cp := make([]string, len(row))
		copy(cp, row)
		out[i] = cp
	}
	return out, nil
}

func (m *MemoryBackend) AppendRow(_ context.Context, table string, values []string) error {
	if m.Fail != nil {
		return m.Fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table]; !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = m.coerce(v)
	}
	m.tables[table] = append(m.tables[table], row)
	return nil
}

func (m *MemoryBackend) UpdateCells(_ context.Context, table string, row int, cells map[int]string) error {
	if m.Fail != nil {
		return m.Fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if row <= 0 || row >= len(rows) {
		return fmt.Errorf("row %d out of range in %s", row, table)
	}
	for col, value := range cells {
		for len(rows[row]) <= col {
			rows[row] = append(rows[row], "")
		}
		rows[row][col] = m.coerce(value)
	}
	return nil
}

func (m *MemoryBackend) Ping(context.Context) error {
	return m.Fail
}

// Seed 直接写入一行原始数据，绕过强转，用于构造历史脏数据。
func (m *MemoryBackend) Seed(table string, columns []string, values []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tables[table]) == 0 {
		header := make([]string, len(columns))
		copy(header, columns)
		m.tables[table] = [][]string{header}
	}
	row := make([]string, len(values))
	copy(row, values)
	m.tables[table] = append(m.tables[table], row)
}

// RowCount 返回数据行数量（不含表头）。
func (m *MemoryBackend) RowCount(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n := len(m.tables[table]); n > 0 {
		return n - 1
	}
	return 0
}

func (m *MemoryBackend) coerce(value string) string {
	if !m.Coerce || value == "" {
		return value
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return value
		}
	}
	trimmed := strings.TrimLeft(value, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return trimmed + ".0"
}
