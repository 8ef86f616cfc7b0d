package store

import "github.com/aicarelung/internal/normalize"

// Table 是后端中的一张命名表（表格服务中的一个工作表）。
type Table string

const (
	TablePatients      Table = "Patients"
	TableReports       Table = "Reports"
	TableEducation     Table = "Education"
	TableInterventions Table = "Interventions"
)

// 各表的列顺序固定，写入时按此顺序落盘；未知键被忽略，缺失键写为空。
var (
	PatientColumns = []string{
		"patient_id", "name", "phone", "password", "age", "gender",
		"surgery_type", "surgery_date", "diagnosis", "medical_record",
		"status", "post_op_day",
		"consent_agreed", "consent_time", "registered_at",
		"clinical_data", "notes",
	}

	ReportColumns = []string{
		"report_id", "patient_id", "patient_name", "date", "timestamp",
		"overall_score", "symptoms", "messages_count",
		"alert_level", "alert_handled", "handled_by", "handled_at",
	}

	EducationColumns = []string{
		"push_id", "patient_id", "patient_name", "material_id", "material_title",
		"category", "push_type", "pushed_by", "pushed_at",
		"read_at", "status",
	}

	InterventionColumns = []string{
		"intervention_id", "patient_id", "patient_name", "date", "timestamp",
		"method", "duration", "content", "referral", "created_by",
	}
)

// Tables 按初始化顺序列出所有已知表。
var Tables = []Table{TablePatients, TableReports, TableEducation, TableInterventions}

// Columns 返回表的列定义，未知表返回 nil。
func Columns(table Table) []string {
	switch table {
	case TablePatients:
		return PatientColumns
	case TableReports:
		return ReportColumns
	case TableEducation:
		return EducationColumns
	case TableInterventions:
		return InterventionColumns
	default:
		return nil
	}
}

// identityColumns 需要在每次读写时经过 normalize 规范化。
var identityColumns = map[string]func(any) string{
	"phone":    normalize.Phone,
	"password": normalize.Password,
}
