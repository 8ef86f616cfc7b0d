package handler

import (
	"errors"
	"net/http"

	"github.com/aicarelung/internal/service"
	"github.com/gin-gonic/gin"
)

const storeUnavailableMessage = "系統暫時無法連線，請稍後再試。"

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

// respondServiceError 把服务层哨兵错误映射为 HTTP 状态码与面向病人的提示。
func (a *API) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDuplicatePhone):
		respondError(c, http.StatusConflict, "此手機號碼已註冊，請直接登入。")
	case errors.Is(err, service.ErrAlreadyReported):
		respondError(c, http.StatusConflict, "您今天已經完成回報，明天再見！")
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "手機號碼或密碼錯誤")
	case errors.Is(err, service.ErrPatientNotFound),
		errors.Is(err, service.ErrReportNotFound),
		errors.Is(err, service.ErrPushNotFound):
		respondError(c, http.StatusNotFound, "找不到資料")
	case errors.Is(err, service.ErrInvalidRegistration),
		errors.Is(err, service.ErrEmptyMessage):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrPatientNotReady):
		respondError(c, http.StatusForbidden, service.PendingSetupMessage)
	case errors.Is(err, service.ErrStoreUnavailable):
		a.logger.Error().Err(err).Str("path", c.FullPath()).Msg("store unavailable")
		respondError(c, http.StatusServiceUnavailable, storeUnavailableMessage)
	default:
		a.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		respondError(c, http.StatusInternalServerError, "伺服器發生錯誤")
	}
}
