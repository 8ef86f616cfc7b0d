package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/aicarelung/internal/store"
)

// ErrExportNotSupported 表示该表不提供导出。
var ErrExportNotSupported = errors.New("table export not supported")

// exportHiddenColumns 列出导出时不输出的列。
var exportHiddenColumns = map[string]bool{
	"password": true,
}

// ExportService 把病人表与回报表导出为 CSV，供个案管理师离线整理。
type ExportService struct {
	store *store.Store
}

// NewExportService 构造 ExportService。
func NewExportService(st *store.Store) *ExportService {
	return &ExportService{store: st}
}

// ExportColumns 返回表的导出列，顺序与表结构一致，敏感列被剔除。
func ExportColumns(table store.Table) []string {
	columns := store.Columns(table)
	out := make([]string, 0, len(columns))
	for _, col := range columns {
		if !exportHiddenColumns[col] {
			out = append(out, col)
		}
	}
	return out
}

// Snapshot 读取待导出的整表；后端不可用时返回 ErrStoreUnavailable，不会导出一张空表。
func (s *ExportService) Snapshot(ctx context.Context, table store.Table) ([]store.Row, error) {
	switch table {
	case store.TablePatients, store.TableReports:
	default:
		return nil, fmt.Errorf("%w: %s", ErrExportNotSupported, table)
	}

	rows, err := s.store.Load(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w: %w", table, ErrStoreUnavailable, err)
	}
	return rows, nil
}

// WriteCSV 以表头加数据行的形式写出快照。
func WriteCSV(w io.Writer, table store.Table, rows []store.Row) error {
	columns := ExportColumns(table)

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("export %s: write header: %w", table, err)
	}

	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			record[i] = row.Get(col)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export %s: write row: %w", table, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
