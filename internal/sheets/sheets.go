// Package sheets 用 Google Sheets API 实现 store.Backend。
// 每张表对应电子表格中的一个工作表，第一行为表头。写入使用 RAW，读取使用格式化后的显示值；
// 人工在表格里编辑过的单元格仍可能被强转成数字，读取后的规范化交给 store 处理。
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aicarelung/internal/normalize"
	"github.com/aicarelung/internal/store"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

const valueInput = "RAW"

// Backend 是基于 Google Sheets 的表格后端。
type Backend struct {
	srv           *sheetsapi.Service
	spreadsheetID string
}

var _ store.Backend = (*Backend)(nil)

// New 根据客户端选项创建 Backend。
func New(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Backend, error) {
	id := strings.TrimSpace(spreadsheetID)
	if id == "" {
		return nil, errors.New("spreadsheet id is required")
	}

	srv, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Backend{srv: srv, spreadsheetID: id}, nil
}

// NewFromCredentialsFile 使用服务账号凭据文件创建 Backend。
func NewFromCredentialsFile(ctx context.Context, spreadsheetID, credentialsFile string) (*Backend, error) {
	path := strings.TrimSpace(credentialsFile)
	if path == "" {
		return nil, errors.New("google credentials file is required")
	}
	return New(ctx, spreadsheetID,
		option.WithCredentialsFile(path),
		option.WithScopes(sheetsapi.SpreadsheetsScope),
	)
}

func (b *Backend) EnsureTable(ctx context.Context, table string, columns []string) error {
	doc, err := b.srv.Spreadsheets.Get(b.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}

	exists := false
	for _, sh := range doc.Sheets {
		if sh.Properties != nil && sh.Properties.Title == table {
			exists = true
			break
		}
	}

	if !exists {
		req := &sheetsapi.BatchUpdateSpreadsheetRequest{
			Requests: []*sheetsapi.Request{{
				AddSheet: &sheetsapi.AddSheetRequest{
					Properties: &sheetsapi.SheetProperties{Title: table},
				},
			}},
		}
		if _, err := b.srv.Spreadsheets.BatchUpdate(b.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("add worksheet %s: %w", table, err)
		}
	} else {
		header, err := b.srv.Spreadsheets.Values.Get(b.spreadsheetID, sheetRange(table, "1:1")).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("read %s header: %w", table, err)
		}
		if len(header.Values) > 0 && len(header.Values[0]) > 0 {
			return nil
		}
	}

	values := make([]interface{}, len(columns))
	for i, col := range columns {
		values[i] = col
	}
	_, err = b.srv.Spreadsheets.Values.Update(b.spreadsheetID, sheetRange(table, "A1"), &sheetsapi.ValueRange{
		Values: [][]interface{}{values},
	}).ValueInputOption(valueInput).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write %s header: %w", table, err)
	}
	return nil
}

func (b *Backend) ReadAll(ctx context.Context, table string) ([][]string, error) {
	resp, err := b.srv.Spreadsheets.Values.Get(b.spreadsheetID, sheetRange(table, "")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}

	grid := make([][]string, len(resp.Values))
	for i, raw := range resp.Values {
		row := make([]string, len(raw))
		for j, cell := range raw {
			row[j] = normalize.Text(cell)
		}
		grid[i] = row
	}
	return grid, nil
}

func (b *Backend) AppendRow(ctx context.Context, table string, values []string) error {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	_, err := b.srv.Spreadsheets.Values.Append(b.spreadsheetID, sheetRange(table, "A1"), &sheetsapi.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption(valueInput).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append %s row: %w", table, err)
	}
	return nil
}

func (b *Backend) UpdateCells(ctx context.Context, table string, row int, cells map[int]string) error {
	if row <= 0 {
		return fmt.Errorf("row %d out of range in %s", row, table)
	}
	if len(cells) == 0 {
		return nil
	}

	data := make([]*sheetsapi.ValueRange, 0, len(cells))
	for col, value := range cells {
		// 工作表行号从 1 开始，表头占第 1 行
		cell := fmt.Sprintf("%s%d", ColumnLetter(col), row+1)
		data = append(data, &sheetsapi.ValueRange{
			Range:  sheetRange(table, cell),
			Values: [][]interface{}{{value}},
		})
	}

	_, err := b.srv.Spreadsheets.Values.BatchUpdate(b.spreadsheetID, &sheetsapi.BatchUpdateValuesRequest{
		ValueInputOption: valueInput,
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s row %d: %w", table, row, err)
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.srv.Spreadsheets.Get(b.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do(); err != nil {
		return fmt.Errorf("ping spreadsheet: %w", err)
	}
	return nil
}

// ColumnLetter 把从 0 开始的列下标转换为 A1 记法中的列字母：0 -> A，26 -> AA。
func ColumnLetter(idx int) string {
	if idx < 0 {
		return ""
	}
	var out []byte
	for n := idx + 1; n > 0; n = (n - 1) / 26 {
		out = append([]byte{byte('A' + (n-1)%26)}, out...)
	}
	return string(out)
}

func sheetRange(table, cells string) string {
	quoted := "'" + strings.ReplaceAll(table, "'", "''") + "'"
	if cells == "" {
		return quoted
	}
	return quoted + "!" + cells
}
