package registry

import (
	"sync"

	"github.com/flexo-cache/flexo/internal/domain"
	"github.com/segmentio/ksuid"
)

// subscriberBuffer is generous enough that a slow-draining subscriber
// never blocks the worker publishing progress; the worker only ever
// sends two messages total (one JobSize, one terminal) per subscriber.
const subscriberBuffer = 4

// Job coordinates one in-flight download and fans its progress out to
// every subscriber, replaying the last JobSize to subscribers that
// attach late. There is no teacher equivalent for this broadcast; it is
// a small guarded struct per Design Note §9's own suggestion.
type Job struct {
	ID    string
	Order domain.Order

	mu       sync.Mutex
	lastSize *uint64
	terminal bool
	subs     map[int]chan domain.Progress
	nextSub  int
}

func newJob(order domain.Order) *Job {
	return &Job{
		ID:    ksuid.New().String(),
		Order: order,
		subs:  make(map[int]chan domain.Progress),
	}
}

// Subscribe attaches a new subscriber and returns its channel. A
// subscriber that attaches after JobSize was published is caught up
// immediately; one that attaches after the Job went terminal receives
// only the replayed JobSize (if any) on an already-closed channel, not
// the terminal message.
func (j *Job) Subscribe() <-chan domain.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan domain.Progress, subscriberBuffer)

	if j.lastSize != nil {
		ch <- domain.JobSize(*j.lastSize)
	}

	if j.terminal {
		// terminalKind was already delivered to every live subscriber
		// when the Job transitioned; a subscriber attaching afterward
		// only needs the replayed JobSize (if any) plus closure, since
		// the caller distinguishes "closed with no terminal seen" as a
		// Failed-equivalent per the Tail Streamer's channel-closed rule.
		close(ch)
		return ch
	}

	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch
	return ch
}

// PublishSize implements worker.Publisher. Only the first size is
// forwarded; a later call (a retry against another provider after an
// earlier one sent headers) is ignored, so each subscriber sees JobSize
// at most once.
func (j *Job) PublishSize(n uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminal || j.lastSize != nil {
		return
	}
	size := n
	j.lastSize = &size
	for _, ch := range j.subs {
		ch <- domain.JobSize(n)
	}
}

// PublishTerminal implements worker.Publisher. It broadcasts the
// terminal message to every live subscriber and closes their channels;
// the Job is retired by the Registry immediately afterward.
func (j *Job) PublishTerminal(kind domain.ProgressKind) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminal {
		return
	}
	j.terminal = true
	for _, ch := range j.subs {
		ch <- domain.Terminal(kind)
		close(ch)
	}
	j.subs = nil
}

// IsTerminal reports whether the Job has reached a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.terminal
}
