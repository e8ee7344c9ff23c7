package catalog

import "context"

// Repository ports are the sole persistence boundary of the ingestion
// core: pure data in, pure data out. Store implements all of them on
// sqlite; services depend only on the interfaces they consume.

type EventRepository interface {
	UpsertBySource(ctx context.Context, event Event) (Event, error)
}

type RaceClassRepository interface {
	UpsertBySource(ctx context.Context, class RaceClass) (RaceClass, error)
}

type SessionRepository interface {
	UpsertBySource(ctx context.Context, session Session) (Session, error)
}

type DriverRepository interface {
	UpsertByDisplayName(ctx context.Context, displayName string) (Driver, error)
	UpsertBySource(ctx context.Context, provider, sourceDriverID, displayName string) (Driver, error)
}

type EntrantRepository interface {
	UpsertBySource(ctx context.Context, entrant Entrant) (Entrant, error)
	FindBySourceEntrantID(ctx context.Context, sessionID, sourceEntrantID string) (*Entrant, error)
	ListBySession(ctx context.Context, sessionID string) ([]Entrant, error)
}

type ResultRowRepository interface {
	UpsertBySessionAndDriver(ctx context.Context, row ResultRow) error
}

type LapRepository interface {
	// ReplaceForEntrant swaps the entrant's whole lap set for the
	// session. Replace, never merge: laps no longer reported upstream
	// must not survive a re-import.
	ReplaceForEntrant(ctx context.Context, entrantID, sessionID string, laps []Lap) error
}

type ImportJobRepository interface {
	CreateJob(ctx context.Context, job ImportJob, items []ImportJobItem) (ImportJob, error)
	GetJob(ctx context.Context, id string) (ImportJob, []ImportJobItem, error)
	TakeNextQueuedJob(ctx context.Context) (*ImportJob, []ImportJobItem, error)
	MarkJobSucceeded(ctx context.Context, id string) error
	MarkJobFailed(ctx context.Context, id, message string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	UpdateJobItem(ctx context.Context, item ImportJobItem) error
}

type ImportPlanRepository interface {
	GetEventStateByRef(ctx context.Context, eventRef string) (EventState, error)
}

type ClubRepository interface {
	UpsertByLiveRcSubdomain(ctx context.Context, club Club) (Club, error)
	MarkInactiveClubsNotInSubdomains(ctx context.Context, subdomains []string) error
	SearchByDisplayName(ctx context.Context, query string) ([]Club, error)
	FindById(ctx context.Context, id string) (*Club, error)
}
