package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE MODELS
////////////////////////

// DatabaseModels lists the tables migrated by the sqlite and postgres stores.
var DatabaseModels = []interface{}{
	&CaseRecord{},
	&RunRecord{},
}

// CaseRecord is one persisted project, keyed by its directory.
type CaseRecord struct {
	gorm.Model
	ProjectPath string         `json:"projectPath" gorm:"size:1024;uniqueIndex"`
	ProjectName string         `json:"projectName" gorm:"size:255"`
	Data        datatypes.JSON `json:"data"`
}

func (*CaseRecord) TableName() string {
	return "case_records"
}

// RunKind distinguishes solver runs from exports in the run history.
type RunKind string

const (
	RunKindGenCase    RunKind = "gencase"
	RunKindSimulation RunKind = "simulation"
	RunKindExport     RunKind = "export"
)

// RunRecord is one finished external tool invocation.
type RunRecord struct {
	ID          uint      `json:"id" gorm:"primarykey"`
	RunID       uuid.UUID `json:"runId" gorm:"type:uuid;uniqueIndex"`
	ProjectPath string    `json:"projectPath" gorm:"size:1024;index:idx_run_project"`
	Kind        RunKind   `json:"kind" gorm:"size:32"`
	State       string    `json:"state" gorm:"size:32"`
	ExitCode    int       `json:"exitCode"`
	Progress    float64   `json:"progress"`
	Detail      string    `json:"detail"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
}

func (*RunRecord) TableName() string {
	return "run_records"
}

// NewRunRecord starts a record with a fresh run id.
func NewRunRecord(projectPath string, kind RunKind) RunRecord {
	return RunRecord{
		RunID:       uuid.New(),
		ProjectPath: projectPath,
		Kind:        kind,
		StartedAt:   time.Now(),
	}
}
