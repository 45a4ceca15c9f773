package domain

import (
	"fmt"
	"strings"
	"time"
)

// Layer names for the run registry. Validation tools register under a
// per-stage layer tag produced by ValidationLayer.
const (
	LayerRaw       = "STG"
	LayerWarehouse = "DDS"
	LayerPost      = "POST"
)

// ExperimentRunPrefix marks run ids derived from a baseline by mutation.
const ExperimentRunPrefix = "exp_"

type RunStatus string

const (
	RunNew        RunStatus = "NEW"
	RunProcessing RunStatus = "PROCESSING"
	RunSuccess    RunStatus = "SUCCESS"
	RunFailed     RunStatus = "FAILED"
)

func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed
}

func (s RunStatus) Validate() error {
	switch s {
	case RunNew, RunProcessing, RunSuccess, RunFailed:
		return nil
	}
	return fmt.Errorf("unknown run status %q", string(s))
}

// AuditStatus is the richer status vocabulary of the audit trail. It is
// observability metadata only and is never read back to drive control flow.
type AuditStatus string

const (
	AuditStarted AuditStatus = "STARTED"
	AuditSuccess AuditStatus = "SUCCESS"
	AuditFailed  AuditStatus = "FAILED"
	AuditSkipped AuditStatus = "SKIPPED"
	AuditMutated AuditStatus = "MUTATED"
	AuditEnded   AuditStatus = "ENDED"
	AuditWarning AuditStatus = "WARNING"
	AuditError   AuditStatus = "ERROR"
	AuditInfo    AuditStatus = "INFO"
)

type CheckStatus string

const (
	CheckPass  CheckStatus = "PASS"
	CheckWarn  CheckStatus = "WARN"
	CheckFail  CheckStatus = "FAIL"
	CheckError CheckStatus = "ERROR"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

func ParseSeverity(raw string) Severity {
	if strings.EqualFold(strings.TrimSpace(raw), string(SeverityWarning)) {
		return SeverityWarning
	}
	return SeverityError
}

// Stage identifies one ETL stage for tool validation: E (extract),
// T (transform), L (load).
type Stage string

const (
	StageExtract   Stage = "E"
	StageTransform Stage = "T"
	StageLoad      Stage = "L"
)

func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StageExtract, StageTransform, StageLoad:
		return s, nil
	}
	return "", fmt.Errorf("unsupported stage %q", raw)
}

// ValidationLayer builds the registry layer tag under which a tool records
// its processing of a stage target, e.g. "E_SQL".
func ValidationLayer(stage Stage, tool string) string {
	return fmt.Sprintf("%s_%s", stage, strings.ToUpper(strings.TrimSpace(tool)))
}

// Kind tags a discovered target by lineage.
type Kind string

const (
	KindBaseline   Kind = "baseline"
	KindExperiment Kind = "experiment"
)

// KindForRunID derives the lineage kind from the run-id naming convention.
func KindForRunID(runID string) Kind {
	if IsExperimentRunID(runID) {
		return KindExperiment
	}
	return KindBaseline
}

func IsExperimentRunID(runID string) bool {
	return strings.HasPrefix(runID, ExperimentRunPrefix)
}

// Run is one registry row. The tuple (Layer, ParentRunID, RunID) is unique;
// a raw-ingest run is its own parent.
type Run struct {
	RunID         string
	ParentRunID   string
	Layer         string
	DagID         string
	Status        RunStatus
	Attempts      int
	ErrorMessage  string
	LastUpdatedAt time.Time
	CreatedAt     time.Time
}
