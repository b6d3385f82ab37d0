package chat

import (
	"fmt"
	"time"
)

const (
	defaultTitlePollDelay       = 3 * time.Second
	defaultTitlePollMaxMessages = 4
)

// TitleState is the position of a session in its title episode.
type TitleState int

const (
	TitleNeedsTitle TitleState = iota
	TitleAwaitingEvent
	TitleFallbackPoll
	TitleResolved
)

func (s TitleState) String() string {
	switch s {
	case TitleNeedsTitle:
		return "needs_title"
	case TitleAwaitingEvent:
		return "awaiting_event"
	case TitleFallbackPoll:
		return "fallback_poll"
	case TitleResolved:
		return "resolved"
	}
	return fmt.Sprintf("title_state(%d)", int(s))
}

// Scheduler runs fn once after d. The returned cancel reports whether it
// stopped fn from running.
type Scheduler func(d time.Duration, fn func()) (cancel func() bool)

// TitleReconciler resolves a session title from a pushed event or, failing
// that, one delayed read per episode. It is driven from a single goroutine.
type TitleReconciler struct {
	DefaultTitle    string
	PollDelay       time.Duration
	PollMaxMessages int

	// Schedule arms the delayed poll. Fetch is called when it fires and must
	// eventually report back through PollResult with the same episode.
	Schedule Scheduler
	Fetch    func(episode uint64)

	state   TitleState
	title   string
	episode uint64
	cancel  func() bool
}

// Arm starts tracking a freshly opened session.
func (r *TitleReconciler) Arm(title string) {
	r.Cancel()
	r.title = title
	if r.IsDefault(title) {
		r.state = TitleNeedsTitle
	} else {
		r.state = TitleResolved
	}
}

func (r *TitleReconciler) State() TitleState { return r.state }
func (r *TitleReconciler) Title() string     { return r.title }

// Default returns the placeholder title of a new session.
func (r *TitleReconciler) Default() string {
	if r.DefaultTitle == "" {
		return DefaultTitle
	}
	return r.DefaultTitle
}

// IsDefault reports whether title is still the placeholder.
func (r *TitleReconciler) IsDefault(title string) bool {
	return title == "" || title == r.Default()
}

// Sent opens an episode after the user sends a message.
func (r *TitleReconciler) Sent() {
	if r.state == TitleNeedsTitle {
		r.state = TitleAwaitingEvent
	}
}

// Event applies a pushed title. A non-default title is authoritative and
// cancels any scheduled or in-flight poll; a default title re-arms.
func (r *TitleReconciler) Event(title string) (changed bool) {
	if r.IsDefault(title) {
		if r.state == TitleResolved {
			r.state = TitleNeedsTitle
		}
		changed = r.title != title
		r.title = title
		return changed
	}
	return r.commit(title)
}

// Commit records a title chosen outside the episode, e.g. a user rename.
func (r *TitleReconciler) Commit(title string) (changed bool) {
	return r.Event(title)
}

// Settled is called whenever streaming settles. It schedules the fallback
// poll when an episode is waiting and the transcript is still short.
func (r *TitleReconciler) Settled(messages int) (scheduled bool) {
	max := r.PollMaxMessages
	if max == 0 {
		max = defaultTitlePollMaxMessages
	}
	if r.state != TitleAwaitingEvent || messages == 0 || messages > max {
		return false
	}
	if r.Schedule == nil {
		return false
	}
	delay := r.PollDelay
	if delay == 0 {
		delay = defaultTitlePollDelay
	}

	r.state = TitleFallbackPoll
	r.episode++
	ep := r.episode
	r.cancel = r.Schedule(delay, func() { r.due(ep) })
	return true
}

func (r *TitleReconciler) due(episode uint64) {
	if episode != r.episode || r.state != TitleFallbackPoll {
		return
	}
	r.cancel = nil
	if r.Fetch != nil {
		r.Fetch(episode)
	}
}

// PollResult applies the outcome of a fallback read. Results from a
// superseded episode are ignored.
func (r *TitleReconciler) PollResult(episode uint64, title string, err error) (changed bool, failure error) {
	if episode != r.episode || r.state != TitleFallbackPoll {
		return false, nil
	}
	if err != nil {
		r.state = TitleNeedsTitle
		return false, err
	}
	if r.IsDefault(title) {
		r.state = TitleNeedsTitle
		return false, nil
	}
	return r.commit(title), nil
}

// Cancel stops any scheduled poll and invalidates one in flight.
func (r *TitleReconciler) Cancel() {
	r.stop()
	r.episode++
	if r.state == TitleFallbackPoll {
		r.state = TitleNeedsTitle
	}
}

func (r *TitleReconciler) commit(title string) bool {
	r.stop()
	r.episode++
	changed := r.title != title
	r.title = title
	r.state = TitleResolved
	return changed
}

func (r *TitleReconciler) stop() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}
