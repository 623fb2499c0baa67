// Package subtask tracks per-module work items under an application. Like
// applications, the table is audited and rollback-capable.
package subtask

import (
	"time"

	"transtrack/internal/records/field"
)

const TableName = "sub_tasks"

// SubTask is one unit of transformation work inside an application.
type SubTask struct {
	ID                   int64
	ApplicationID        int64
	ModuleName           string
	SubTarget            string
	VersionName          string
	TaskStatus           string
	ProgressPercentage   int
	IsBlocked            bool
	BlockReason          string
	PlannedBizOnlineDate *time.Time
	ActualBizOnlineDate  *time.Time
	Priority             int
	EstimatedHours       *int64
	AssignedTo           string
	Reviewer             string
	CreatedBy            int64
	UpdatedBy            int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (t *SubTask) TableName() string { return TableName }
func (t *SubTask) RecordID() int64   { return t.ID }

func (t *SubTask) Snapshot() map[string]any {
	return map[string]any{
		"id":                      t.ID,
		"application_id":          t.ApplicationID,
		"module_name":             t.ModuleName,
		"sub_target":              t.SubTarget,
		"version_name":            t.VersionName,
		"task_status":             t.TaskStatus,
		"progress_percentage":     t.ProgressPercentage,
		"is_blocked":              t.IsBlocked,
		"block_reason":            t.BlockReason,
		"planned_biz_online_date": t.PlannedBizOnlineDate,
		"actual_biz_online_date":  t.ActualBizOnlineDate,
		"priority":                t.Priority,
		"estimated_hours":         t.EstimatedHours,
		"assigned_to":             t.AssignedTo,
		"reviewer":                t.Reviewer,
		"created_by":              t.CreatedBy,
		"updated_by":              t.UpdatedBy,
		"created_at":              t.CreatedAt,
		"updated_at":              t.UpdatedAt,
	}
}

// FromSnapshot reconstructs a SubTask from a ledger snapshot.
func FromSnapshot(snap map[string]any) (*SubTask, error) {
	t := &SubTask{}
	var err error
	if t.ID, err = field.Int64(snap, "id"); err != nil {
		return nil, err
	}
	if t.ApplicationID, err = field.Int64(snap, "application_id"); err != nil {
		return nil, err
	}
	if t.ModuleName, err = field.String(snap, "module_name"); err != nil {
		return nil, err
	}
	if t.SubTarget, err = field.String(snap, "sub_target"); err != nil {
		return nil, err
	}
	if t.VersionName, err = field.String(snap, "version_name"); err != nil {
		return nil, err
	}
	if t.TaskStatus, err = field.String(snap, "task_status"); err != nil {
		return nil, err
	}
	if t.ProgressPercentage, err = field.Int(snap, "progress_percentage"); err != nil {
		return nil, err
	}
	if t.IsBlocked, err = field.Bool(snap, "is_blocked"); err != nil {
		return nil, err
	}
	if t.BlockReason, err = field.String(snap, "block_reason"); err != nil {
		return nil, err
	}
	if t.PlannedBizOnlineDate, err = field.TimePtr(snap, "planned_biz_online_date"); err != nil {
		return nil, err
	}
	if t.ActualBizOnlineDate, err = field.TimePtr(snap, "actual_biz_online_date"); err != nil {
		return nil, err
	}
	if t.Priority, err = field.Int(snap, "priority"); err != nil {
		return nil, err
	}
	if t.EstimatedHours, err = field.Int64Ptr(snap, "estimated_hours"); err != nil {
		return nil, err
	}
	if t.AssignedTo, err = field.String(snap, "assigned_to"); err != nil {
		return nil, err
	}
	if t.Reviewer, err = field.String(snap, "reviewer"); err != nil {
		return nil, err
	}
	if t.CreatedBy, err = field.Int64(snap, "created_by"); err != nil {
		return nil, err
	}
	if t.UpdatedBy, err = field.Int64(snap, "updated_by"); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = field.Time(snap, "created_at"); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = field.Time(snap, "updated_at"); err != nil {
		return nil, err
	}
	return t, nil
}
