package handler

import (
	"net/http"
	"strings"

	"github.com/aicarelung/internal/service"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	patientSessionKey = "patient_id"
	patientContextKey = "__patient"
)

type registerRequest struct {
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	Age             int    `json:"age"`
	Gender          string `json:"gender"`
	ConsentAgreed   bool   `json:"consent_agreed"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Register 处理病人注册，成功后处于待设定手术状态。
func (a *API) Register(c *gin.Context) {
	var payload registerRequest
	if !bindJSON(c, &payload, "請填寫完整的註冊資料") {
		return
	}

	patient, err := a.patients.Register(c.Request.Context(), service.RegistrationInput{
		Name:            strictText(payload.Name),
		Phone:           payload.Phone,
		Password:        payload.Password,
		ConfirmPassword: payload.PasswordConfirm,
		Age:             payload.Age,
		Gender:          strictText(payload.Gender),
		ConsentAgreed:   payload.ConsentAgreed,
	})
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "註冊成功！請等待個案管理師設定手術資訊。",
		"patient": patient,
	})
}

// Login 以手机号与密码登录病人账号。
func (a *API) Login(c *gin.Context) {
	var payload loginRequest
	if !bindJSON(c, &payload, "請輸入手機號碼與密碼") {
		return
	}

	patient, err := a.patients.Authenticate(c.Request.Context(), payload.Phone, payload.Password)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	session := sessions.Default(c)
	session.Set(patientSessionKey, patient.ID)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "會話保存失敗")
		return
	}

	c.JSON(http.StatusOK, gin.H{"patient": patient})
}

// Logout 清除病人会话并丢弃当天未完成的对话。
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	if id, ok := session.Get(patientSessionKey).(string); ok {
		a.sessions.Reset(id)
	}
	session.Delete(patientSessionKey)
	session.Save()
	c.JSON(http.StatusOK, gin.H{"message": "已登出"})
}

// PatientAuthRequired 校验病人会话，并把最新的病人资料放入上下文。
func (a *API) PatientAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := sessions.Default(c).Get(patientSessionKey).(string)
		if strings.TrimSpace(id) == "" {
			respondError(c, http.StatusUnauthorized, "請先登入")
			c.Abort()
			return
		}

		patient, err := a.patients.FindByID(c.Request.Context(), id)
		if err != nil {
			a.respondServiceError(c, err)
			c.Abort()
			return
		}

		c.Set(patientContextKey, patient)
		c.Next()
	}
}

func currentPatient(c *gin.Context) *service.Patient {
	if value, ok := c.Get(patientContextKey); ok {
		if patient, ok := value.(*service.Patient); ok {
			return patient
		}
	}
	return nil
}

// Me 返回当前病人资料与今天是否已回报。
func (a *API) Me(c *gin.Context) {
	patient := currentPatient(c)
	c.JSON(http.StatusOK, gin.H{
		"patient":            patient,
		"reported_today":     a.reports.HasReportedToday(c.Request.Context(), patient.ID),
		"can_report":         patient.CanReport(),
		"pending_setup":      patient.Status == service.PatientStatusPendingSetup,
		"pending_setup_hint": pendingHint(patient),
	})
}

func pendingHint(patient *service.Patient) string {
	if patient.Status == service.PatientStatusPendingSetup {
		return service.PendingSetupMessage
	}
	return ""
}

// MyReports 返回当前病人的历史回报，最新的在前。
func (a *API) MyReports(c *gin.Context) {
	patient := currentPatient(c)
	c.JSON(http.StatusOK, gin.H{"reports": a.reports.ListByPatient(c.Request.Context(), patient.ID)})
}

// MyEducation 返回推送给当前病人的卫教素材。
func (a *API) MyEducation(c *gin.Context) {
	patient := currentPatient(c)
	c.JSON(http.StatusOK, gin.H{"pushes": a.education.ListByPatient(c.Request.Context(), patient.ID)})
}

// MarkEducationRead 把自己的一条卫教推送标记为已读。
func (a *API) MarkEducationRead(c *gin.Context) {
	patient := currentPatient(c)
	if err := a.education.MarkRead(c.Request.Context(), c.Param("id"), patient.ID); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已讀"})
}
