package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aicarelung/internal/service"
	"github.com/aicarelung/internal/store"
	"github.com/gin-gonic/gin"
)

// ExportPatients 以 CSV 导出病人表（不含密码）。
func (a *API) ExportPatients(c *gin.Context) {
	a.exportTable(c, store.TablePatients, "patients")
}

// ExportReports 以 CSV 导出回报表。
func (a *API) ExportReports(c *gin.Context) {
	a.exportTable(c, store.TableReports, "reports")
}

func (a *API) exportTable(c *gin.Context, table store.Table, name string) {
	rows, err := a.exports.Snapshot(c.Request.Context(), table)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition",
		fmt.Sprintf("attachment; filename=\"%s_%s.csv\"", name, time.Now().Format("20060102_150405")))
	c.Status(http.StatusOK)

	if err := service.WriteCSV(c.Writer, table, rows); err != nil {
		a.logger.Error().Err(err).Str("table", string(table)).Msg("csv export interrupted")
	}
}
