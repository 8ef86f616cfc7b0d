package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aicarelung/internal/store"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SheetRow 以"工作表名 + 行号 + 单元格 JSON"的形式保存一行表格数据。
// Position 0 为表头；Sheet + Position 采用唯一索引，追加在事务中分配行号。
type SheetRow struct {
	ID       uint           `gorm:"primaryKey"`
	Sheet    string         `gorm:"size:64;not null;index:idx_sheet_row_position,unique"`
	Position int            `gorm:"not null;index:idx_sheet_row_position,unique"`
	Cells    datatypes.JSON `gorm:"not null"`
}

// TableName 固定表名。
func (SheetRow) TableName() string {
	return "sheet_rows"
}

// GormBackend 用 sqlite 实现 store.Backend，语义上严格强于表格服务：单条追加在事务中完成。
type GormBackend struct {
	db *gorm.DB
}

var _ store.Backend = (*GormBackend)(nil)

// NewGormBackend 构造 GormBackend。
func NewGormBackend(gdb *gorm.DB) *GormBackend {
	return &GormBackend{db: gdb}
}

func (b *GormBackend) EnsureTable(ctx context.Context, table string, columns []string) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&SheetRow{}).Where("sheet = ?", table).Count(&count).Error; err != nil {
			return fmt.Errorf("count %s rows: %w", table, err)
		}
		if count > 0 {
			return nil
		}

		cells, err := encodeCells(columns)
		if err != nil {
			return err
		}
		if err := tx.Create(&SheetRow{Sheet: table, Position: 0, Cells: cells}).Error; err != nil {
			return fmt.Errorf("create %s header: %w", table, err)
		}
		return nil
	})
}

func (b *GormBackend) ReadAll(ctx context.Context, table string) ([][]string, error) {
	var rows []SheetRow
	if err := b.db.WithContext(ctx).
		Where("sheet = ?", table).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrTableNotFound, table)
	}

	grid := make([][]string, 0, len(rows))
	for _, row := range rows {
		grid = append(grid, decodeCells(row.Cells))
	}
	return grid, nil
}

func (b *GormBackend) AppendRow(ctx context.Context, table string, values []string) error {
	cells, err := encodeCells(values)
	if err != nil {
		return err
	}

	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last SheetRow
		err := tx.Where("sheet = ?", table).Order("position DESC").First(&last).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", store.ErrTableNotFound, table)
			}
			return fmt.Errorf("find last %s row: %w", table, err)
		}

		if err := tx.Create(&SheetRow{Sheet: table, Position: last.Position + 1, Cells: cells}).Error; err != nil {
			return fmt.Errorf("append %s row: %w", table, err)
		}
		return nil
	})
}

func (b *GormBackend) UpdateCells(ctx context.Context, table string, position int, cells map[int]string) error {
	if position <= 0 {
		return fmt.Errorf("row %d out of range in %s", position, table)
	}

	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row SheetRow
		if err := tx.Where("sheet = ? AND position = ?", table, position).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("row %d out of range in %s", position, table)
			}
			return fmt.Errorf("load %s row %d: %w", table, position, err)
		}

		values := decodeCells(row.Cells)
		for col, value := range cells {
			for len(values) <= col {
				values = append(values, "")
			}
			values[col] = value
		}

		encoded, err := encodeCells(values)
		if err != nil {
			return err
		}
		if err := tx.Model(&row).Update("cells", encoded).Error; err != nil {
			return fmt.Errorf("update %s row %d: %w", table, position, err)
		}
		return nil
	})
}

func (b *GormBackend) Ping(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func encodeCells(values []string) (datatypes.JSON, error) {
	if values == nil {
		values = []string{}
	}
	buf, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode cells: %w", err)
	}
	return datatypes.JSON(buf), nil
}

func decodeCells(raw datatypes.JSON) []string {
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return []string{}
	}
	return values
}
