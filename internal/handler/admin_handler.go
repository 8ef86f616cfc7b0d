package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aicarelung/internal/db"
	"github.com/aicarelung/internal/service"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	reviewerIDKey   = "user_id"
	reviewerNameKey = "username"
)

type reviewerLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ReviewerLogin 处理个案管理师登录。
func (a *API) ReviewerLogin(c *gin.Context) {
	var payload reviewerLoginRequest
	if !bindJSON(c, &payload, "請輸入帳號與密碼") {
		return
	}

	user, err := db.Authenticate(a.db, payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, db.ErrInvalidLogin) {
			respondError(c, http.StatusUnauthorized, "用户名或密码错误")
			return
		}
		a.logger.Error().Err(err).Msg("reviewer login failed")
		respondError(c, http.StatusInternalServerError, "登录失败")
		return
	}

	// 设置会话
	session := sessions.Default(c)
	session.Set(reviewerIDKey, user.ID)
	session.Set(reviewerNameKey, user.Username)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"username": user.Username, "display_name": user.DisplayName})
}

// ReviewerLogout 处理审阅人登出
func (a *API) ReviewerLogout(c *gin.Context) {
	session := sessions.Default(c)
	session.Delete(reviewerIDKey)
	session.Delete(reviewerNameKey)
	session.Save()
	c.JSON(http.StatusOK, gin.H{"message": "已登出"})
}

// AuthRequired 是一个简单的审阅人认证中间件
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if session.Get(reviewerIDKey) == nil {
			respondError(c, http.StatusUnauthorized, "请先登录")
			c.Abort()
			return
		}
		c.Next()
	}
}

func reviewerName(c *gin.Context) string {
	name, _ := sessions.Default(c).Get(reviewerNameKey).(string)
	return name
}

// PendingAlerts 返回待处理警示，红色优先、新的在前。
func (a *API) PendingAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": a.reports.PendingAlerts(c.Request.Context())})
}

// HandleAlert 把警示标记为已处理。
func (a *API) HandleAlert(c *gin.Context) {
	if err := a.reports.Handle(c.Request.Context(), c.Param("id"), reviewerName(c)); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已處理"})
}

// ListPatients 返回全部病人。
func (a *API) ListPatients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"patients": a.patients.List(c.Request.Context())})
}

// GetPatient 返回单个病人及其回报、卫教与介入记录。
func (a *API) GetPatient(c *gin.Context) {
	ctx := c.Request.Context()
	patient, err := a.patients.FindByID(ctx, c.Param("id"))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"patient":       patient,
		"reports":       a.reports.ListByPatient(ctx, patient.ID),
		"education":     a.education.ListByPatient(ctx, patient.ID),
		"interventions": a.interventions.ListByPatient(ctx, patient.ID),
	})
}

type surgerySetupRequest struct {
	SurgeryType   string         `json:"surgery_type"`
	SurgeryDate   string         `json:"surgery_date"`
	Diagnosis     string         `json:"diagnosis"`
	MedicalRecord string         `json:"medical_record"`
	ClinicalData  map[string]any `json:"clinical_data"`
	Notes         string         `json:"notes"`
}

// SetupPatient 录入手术信息，病人随后可以开始每日回报。
func (a *API) SetupPatient(c *gin.Context) {
	var payload surgerySetupRequest
	if !bindJSON(c, &payload, "請填寫手術資訊") {
		return
	}

	patient, err := a.patients.SetupSurgery(c.Request.Context(), c.Param("id"), service.SurgerySetupInput{
		SurgeryType:   strictText(payload.SurgeryType),
		SurgeryDate:   payload.SurgeryDate,
		Diagnosis:     strictText(payload.Diagnosis),
		MedicalRecord: strictText(payload.MedicalRecord),
		ClinicalData:  payload.ClinicalData,
		Notes:         strictText(payload.Notes),
	})
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patient": patient})
}

// DischargePatient 将病人标记为出院。
func (a *API) DischargePatient(c *gin.Context) {
	id := c.Param("id")
	if err := a.patients.Discharge(c.Request.Context(), id); err != nil {
		a.respondServiceError(c, err)
		return
	}
	a.sessions.Reset(id)
	c.JSON(http.StatusOK, gin.H{"message": "已出院"})
}

type educationPushRequest struct {
	PatientID     string `json:"patient_id"`
	MaterialID    string `json:"material_id"`
	MaterialTitle string `json:"material_title"`
	Category      string `json:"category"`
	PushType      string `json:"push_type"`
}

// PushEducation 向病人推送卫教素材。
func (a *API) PushEducation(c *gin.Context) {
	var payload educationPushRequest
	if !bindJSON(c, &payload, "請選擇病人與衛教素材") {
		return
	}

	ctx := c.Request.Context()
	patient, err := a.patients.FindByID(ctx, strings.TrimSpace(payload.PatientID))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	push, err := a.education.Push(ctx, service.EducationPushInput{
		PatientID:     patient.ID,
		PatientName:   patient.Name,
		MaterialID:    strictText(payload.MaterialID),
		MaterialTitle: strictText(payload.MaterialTitle),
		Category:      strictText(payload.Category),
		PushType:      strictText(payload.PushType),
		PushedBy:      reviewerName(c),
	})
	if err != nil {
		if !errors.Is(err, service.ErrStoreUnavailable) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"push": push})
}

// ListEducation 返回推送记录，可按 patient_id 过滤。
func (a *API) ListEducation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pushes": a.education.ListByPatient(c.Request.Context(), c.Query("patient_id"))})
}

type interventionRequest struct {
	PatientID string `json:"patient_id"`
	Method    string `json:"method"`
	Duration  string `json:"duration"`
	Content   string `json:"content"`
	Referral  string `json:"referral"`
}

// SaveIntervention 记录一次个案管理介入。
func (a *API) SaveIntervention(c *gin.Context) {
	var payload interventionRequest
	if !bindJSON(c, &payload, "請填寫介入紀錄") {
		return
	}

	ctx := c.Request.Context()
	patient, err := a.patients.FindByID(ctx, strings.TrimSpace(payload.PatientID))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	record, err := a.interventions.Save(ctx, service.InterventionInput{
		PatientID:   patient.ID,
		PatientName: patient.Name,
		Method:      strictText(payload.Method),
		Duration:    strictText(payload.Duration),
		Content:     strictText(payload.Content),
		Referral:    strictText(payload.Referral),
		CreatedBy:   reviewerName(c),
	})
	if err != nil {
		if !errors.Is(err, service.ErrStoreUnavailable) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"intervention": record})
}

// ListInterventions 返回介入记录，可按 patient_id 过滤。
func (a *API) ListInterventions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"interventions": a.interventions.ListByPatient(c.Request.Context(), c.Query("patient_id"))})
}

// DashboardStats 返回审阅人首页的统计。
func (a *API) DashboardStats(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"stats":         a.reports.DashboardStats(ctx),
		"today_reports": a.reports.ListToday(ctx),
	})
}
