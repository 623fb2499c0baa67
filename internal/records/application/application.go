// Package application tracks modernization programs per L2 system. It is one
// of the audited tables: every mutation goes through a service that records
// the change, and its accessor lets the rollback engine reverse one.
package application

import (
	"time"

	"transtrack/internal/records/field"
)

// TableName is the audited table this package owns.
const TableName = "applications"

// Application is one system undergoing transformation.
type Application struct {
	ID                   int64
	L2ID                 string
	AppName              string
	SupervisionYear      int
	TransformationTarget string
	OverallStatus        string
	ResponsibleTeam      string
	ResponsiblePerson    string
	ProgressPercentage   int
	IsDelayed            bool
	DelayDays            int
	PlannedBizOnlineDate *time.Time
	ActualBizOnlineDate  *time.Time
	Notes                string
	CreatedBy            int64
	UpdatedBy            int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (a *Application) TableName() string { return TableName }
func (a *Application) RecordID() int64   { return a.ID }

// Snapshot flattens the record for the audit ledger. Keys match column
// names so changed-field lists read like the schema.
func (a *Application) Snapshot() map[string]any {
	return map[string]any{
		"id":                      a.ID,
		"l2_id":                   a.L2ID,
		"app_name":                a.AppName,
		"supervision_year":        a.SupervisionYear,
		"transformation_target":   a.TransformationTarget,
		"overall_status":          a.OverallStatus,
		"responsible_team":        a.ResponsibleTeam,
		"responsible_person":      a.ResponsiblePerson,
		"progress_percentage":     a.ProgressPercentage,
		"is_delayed":              a.IsDelayed,
		"delay_days":              a.DelayDays,
		"planned_biz_online_date": a.PlannedBizOnlineDate,
		"actual_biz_online_date":  a.ActualBizOnlineDate,
		"notes":                   a.Notes,
		"created_by":              a.CreatedBy,
		"updated_by":              a.UpdatedBy,
		"created_at":              a.CreatedAt,
		"updated_at":              a.UpdatedAt,
	}
}

// FromSnapshot reconstructs an Application from a ledger snapshot.
func FromSnapshot(snap map[string]any) (*Application, error) {
	a := &Application{}
	var err error
	if a.ID, err = field.Int64(snap, "id"); err != nil {
		return nil, err
	}
	if a.L2ID, err = field.String(snap, "l2_id"); err != nil {
		return nil, err
	}
	if a.AppName, err = field.String(snap, "app_name"); err != nil {
		return nil, err
	}
	if a.SupervisionYear, err = field.Int(snap, "supervision_year"); err != nil {
		return nil, err
	}
	if a.TransformationTarget, err = field.String(snap, "transformation_target"); err != nil {
		return nil, err
	}
	if a.OverallStatus, err = field.String(snap, "overall_status"); err != nil {
		return nil, err
	}
	if a.ResponsibleTeam, err = field.String(snap, "responsible_team"); err != nil {
		return nil, err
	}
	if a.ResponsiblePerson, err = field.String(snap, "responsible_person"); err != nil {
		return nil, err
	}
	if a.ProgressPercentage, err = field.Int(snap, "progress_percentage"); err != nil {
		return nil, err
	}
	if a.IsDelayed, err = field.Bool(snap, "is_delayed"); err != nil {
		return nil, err
	}
	if a.DelayDays, err = field.Int(snap, "delay_days"); err != nil {
		return nil, err
	}
	if a.PlannedBizOnlineDate, err = field.TimePtr(snap, "planned_biz_online_date"); err != nil {
		return nil, err
	}
	if a.ActualBizOnlineDate, err = field.TimePtr(snap, "actual_biz_online_date"); err != nil {
		return nil, err
	}
	if a.Notes, err = field.String(snap, "notes"); err != nil {
		return nil, err
	}
	if a.CreatedBy, err = field.Int64(snap, "created_by"); err != nil {
		return nil, err
	}
	if a.UpdatedBy, err = field.Int64(snap, "updated_by"); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = field.Time(snap, "created_at"); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = field.Time(snap, "updated_at"); err != nil {
		return nil, err
	}
	return a, nil
}
