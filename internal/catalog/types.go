package catalog

import "time"

// Event is an upstream race event, keyed by its source id. Events are
// only ever created or updated, never deleted.
type Event struct {
	ID            string
	SourceEventID string
	SourceURL     string
	Name          string
}

// RaceClass belongs to one Event.
type RaceClass struct {
	ID        string
	EventID   string
	ClassCode string
	SourceURL string
	Name      string
}

// Session belongs to exactly one (Event, RaceClass). The source
// session id is derived from the session url's slugs, so re-imports
// land on the same row.
type Session struct {
	ID              string
	EventID         string
	RaceClassID     string
	SourceSessionID string
	SourceURL       string
	Name            string
	ScheduledStart  *time.Time
}

// Driver is a person's cross-session identity, keyed either by
// normalized display name or by an explicit provider+source id pair.
type Driver struct {
	ID             string
	DisplayName    string
	Provider       string
	SourceDriverID string
}

// Entrant is a Driver's participation in one Session.
type Entrant struct {
	ID              string
	EventID         string
	RaceClassID     string
	SessionID       string
	DriverID        string
	SourceEntrantID string
	CarNumber       string
	Transponder     string
}

// ResultRow is the per-(session, driver) summary. One row per driver
// per session; timing fields in milliseconds.
type ResultRow struct {
	SessionID      string
	DriverID       string
	Position       int
	LapCount       int
	TotalTimeMS    int64
	BehindMS       int64
	FastestLapMS   int64
	AverageLapMS   int64
	ConsistencyPct float64
}

// Lap belongs to one Entrant+Session. Its id is the deterministic
// content hash from BuildLapID, which is what makes lap upserts
// idempotent.
type Lap struct {
	ID        string
	EntrantID string
	SessionID string
	LapNumber int
	LapTimeMS int64
}

// Club is a LiveRC club sub-site. Clubs absent from the latest
// catalogue sweep are deactivated, not deleted.
type Club struct {
	ID              string
	LiveRcSubdomain string
	DisplayName     string
	Active          bool
}

type JobState string

const (
	JobQueued    JobState = "QUEUED"
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
)

type JobTargetType string

const (
	TargetEvent   JobTargetType = "EVENT"
	TargetSession JobTargetType = "SESSION"
)

// ImportJob is a queued unit of ingestion work.
type ImportJob struct {
	ID        string
	State     JobState
	Progress  int
	Error     string
	CreatedAt time.Time
}

type ImportJobItem struct {
	ID         string
	JobID      string
	TargetType JobTargetType
	TargetRef  string
	State      JobState
	Error      string
	Counts     map[string]int64
}

type PlanStatus string

const (
	PlanNew      PlanStatus = "NEW"
	PlanPartial  PlanStatus = "PARTIAL"
	PlanExisting PlanStatus = "EXISTING"
)

// ImportPlanItem is an estimate of ingestion scope for one event. It
// is advice, not persisted state.
type ImportPlanItem struct {
	EventRef          string
	Title             string
	Status            PlanStatus
	EstimatedSessions int
	EstimatedDrivers  int
	EstimatedLaps     int
}

type ImportPlan struct {
	Items []ImportPlanItem
}

// EventState is the locally recorded ingestion footprint of an event,
// used to classify it NEW/PARTIAL/EXISTING.
type EventState struct {
	Exists   bool
	Sessions int
	Entrants int
	Laps     int
	// SessionLapCounts maps source session ids to their recorded lap
	// count.
	SessionLapCounts map[string]int
}
