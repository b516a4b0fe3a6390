package domain

// ScheduleKind enumerates the possible dispatch decisions the Scheduler
// returns for an incoming Order.
type ScheduleKind int

const (
	// Cached means the object is already complete on disk.
	Cached ScheduleKind = iota
	// AlreadyInProgress means a worker is already downloading this path;
	// the caller attached as a new subscriber to it.
	AlreadyInProgress
	// Scheduled means a new worker was just launched for this path; the
	// caller is its first subscriber.
	Scheduled
	// Uncacheable means the path is classified as never-cached and
	// should be served as a redirect to the provider directly.
	Uncacheable
)

func (k ScheduleKind) String() string {
	switch k {
	case Cached:
		return "Cached"
	case AlreadyInProgress:
		return "AlreadyInProgress"
	case Scheduled:
		return "Scheduled"
	case Uncacheable:
		return "Uncacheable"
	default:
		return "Unknown"
	}
}

// ScheduleOutcome is what the Scheduler hands back to the request
// handler for a given Order.
type ScheduleOutcome struct {
	Kind ScheduleKind

	// CachedSize is valid when Kind == Cached.
	CachedSize uint64

	// Subscriber is valid when Kind is AlreadyInProgress or Scheduled.
	Subscriber <-chan Progress

	// Provider is valid when Kind == Uncacheable: the mirror the client
	// should be redirected to.
	Provider Provider
}
