package catalog

import "context"

// Port views over Store. The upsert ports share a method name with
// different shapes, so each gets its own adapter type.

func (s Store) Events() EventRepository          { return eventRepo{s} }
func (s Store) RaceClasses() RaceClassRepository { return classRepo{s} }
func (s Store) Sessions() SessionRepository      { return sessionRepo{s} }
func (s Store) Drivers() DriverRepository        { return driverRepo{s} }
func (s Store) Entrants() EntrantRepository      { return entrantRepo{s} }
func (s Store) ResultRows() ResultRowRepository  { return s }
func (s Store) Laps() LapRepository              { return s }
func (s Store) Jobs() ImportJobRepository        { return s }
func (s Store) PlanState() ImportPlanRepository  { return s }
func (s Store) Clubs() ClubRepository            { return s }

type eventRepo struct{ s Store }

func (r eventRepo) UpsertBySource(ctx context.Context, event Event) (Event, error) {
	return r.s.UpsertBySource(ctx, event)
}

type classRepo struct{ s Store }

func (r classRepo) UpsertBySource(ctx context.Context, class RaceClass) (RaceClass, error) {
	return r.s.UpsertClassBySource(ctx, class)
}

type sessionRepo struct{ s Store }

func (r sessionRepo) UpsertBySource(ctx context.Context, session Session) (Session, error) {
	return r.s.UpsertSessionBySource(ctx, session)
}

type entrantRepo struct{ s Store }

func (r entrantRepo) UpsertBySource(ctx context.Context, entrant Entrant) (Entrant, error) {
	return r.s.UpsertEntrantBySource(ctx, entrant)
}

func (r entrantRepo) FindBySourceEntrantID(ctx context.Context, sessionID, sourceEntrantID string) (*Entrant, error) {
	return r.s.FindBySourceEntrantID(ctx, sessionID, sourceEntrantID)
}

func (r entrantRepo) ListBySession(ctx context.Context, sessionID string) ([]Entrant, error) {
	return r.s.ListBySession(ctx, sessionID)
}

type driverRepo struct{ s Store }

func (r driverRepo) UpsertByDisplayName(ctx context.Context, displayName string) (Driver, error) {
	return r.s.UpsertByDisplayName(ctx, displayName)
}

func (r driverRepo) UpsertBySource(ctx context.Context, provider, sourceDriverID, displayName string) (Driver, error) {
	return r.s.UpsertDriverBySource(ctx, provider, sourceDriverID, displayName)
}
