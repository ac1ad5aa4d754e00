// Package engine orchestrates partner matching: it owns the participant
// state machine and combines the waiting queue, pairing store, profile and
// rating lookups, and the moderation gate into a single find-partner
// decision. The engine holds no locks of its own; every cross-participant
// guarantee rests on the stores' atomic primitives, so any number of request
// handlers may call it concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/veilchat/veil/internal/compat"
	"github.com/veilchat/veil/internal/pairing"
	"github.com/veilchat/veil/internal/queue"
	"github.com/veilchat/veil/internal/reputation"
	"github.com/veilchat/veil/internal/state"
)

// WaitingQueue is the FIFO waiting list the engine draws partners from.
// Implemented by *queue.Queue.
type WaitingQueue interface {
	TryPairOrEnqueue(ctx context.Context, id int64, exclude []int64) (partner int64, enqueued bool, err error)
	Leave(ctx context.Context, id int64) (bool, error)
	Size(ctx context.Context) (int64, error)
	Members(ctx context.Context) ([]int64, error)
}

// StateStore tracks each participant's position in the matching lifecycle.
// Implemented by *state.Store.
type StateStore interface {
	Get(ctx context.Context, id int64) (state.Status, error)
	Set(ctx context.Context, id int64, status state.Status, ttl time.Duration) error
	SetIdle(ctx context.Context, id int64, grace time.Duration) error
}

// PairingStore holds the bidirectional partner mapping. Implemented by
// *pairing.Store.
type PairingStore interface {
	Create(ctx context.Context, a, b int64, ttl time.Duration) (bool, error)
	End(ctx context.Context, id int64, grace time.Duration) (partner int64, ended bool, err error)
	Partner(ctx context.Context, id int64) (int64, bool, error)
}

// ProfileProvider supplies profile snapshots. A nil profile means the
// participant never set one up.
type ProfileProvider interface {
	GetProfile(ctx context.Context, id int64) (*compat.Profile, error)
}

// PreferenceProvider supplies search filters, defaulting to Any/Any.
type PreferenceProvider interface {
	GetPreferences(ctx context.Context, id int64) (compat.Preferences, error)
}

// ReputationProvider supplies rating snapshots and receives the
// chat-started notification for both sides of a new pairing.
type ReputationProvider interface {
	GetReputation(ctx context.Context, id int64) (reputation.Snapshot, error)
	OnChatStarted(ctx context.Context, id int64) error
}

// ModerationGate answers whether a participant is currently banned or
// frozen. Implemented by *ban.Store.
type ModerationGate interface {
	IsBlocked(ctx context.Context, id int64) (bool, error)
}

// Config carries the externally supplied engine parameters. There are no
// hidden defaults; New rejects incomplete configs.
type Config struct {
	MaxQueueSize        int
	ConversationTimeout time.Duration // pairing + chatting state TTL
	QueueSessionTimeout time.Duration // searching state TTL
	IdleGrace           time.Duration // idle marker TTL after a chat ends
}

func (c Config) validate() error {
	if c.MaxQueueSize <= 0 {
		return errors.New("engine: MaxQueueSize must be positive")
	}
	if c.ConversationTimeout <= 0 || c.QueueSessionTimeout <= 0 || c.IdleGrace <= 0 {
		return errors.New("engine: all timeouts must be positive")
	}
	return nil
}

// Engine is the matching orchestrator. All collaborators are injected; the
// engine keeps no ambient globals.
type Engine struct {
	cfg      Config
	queue    WaitingQueue
	states   StateStore
	pairings PairingStore
	profiles ProfileProvider
	prefs    PreferenceProvider
	ratings  ReputationProvider
	gate     ModerationGate
}

// New wires an Engine from its collaborators.
func New(cfg Config, q WaitingQueue, st StateStore, p PairingStore,
	profiles ProfileProvider, prefs PreferenceProvider,
	ratings ReputationProvider, gate ModerationGate) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		queue:    q,
		states:   st,
		pairings: p,
		profiles: profiles,
		prefs:    prefs,
		ratings:  ratings,
		gate:     gate,
	}, nil
}

// fallbackAttempts bounds how many stale queue entries a single search will
// pop before giving up and reporting a store inconsistency.
const fallbackAttempts = 3

// candidate is one waiter that survived the eligibility filters.
type candidate struct {
	id    int64
	score float64
}

// FindPartner tries to pair the participant with a waiting partner. It
// returns Matched with the partner id, Queued when the participant is now
// waiting, or Rejected when the request cannot proceed. Store failures come
// back as errors after a best-effort rollback of any state already written.
func (e *Engine) FindPartner(ctx context.Context, id int64) (Result, error) {
	// A blocked participant is a graceful refusal, not an error: the gate
	// normally runs before we are called at all, so this is a backstop.
	blocked, err := e.gate.IsBlocked(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("engine: moderation check for %d: %w", id, err)
	}
	if blocked {
		return Rejected(ReasonBlocked), nil
	}

	st, err := e.states.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if st != state.Idle {
		// One search or conversation at a time.
		return Rejected(ReasonAlreadyActive), nil
	}

	rep, err := e.ratings.GetReputation(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !rep.Eligible() {
		// Rejected before any queue mutation.
		return Rejected(ReasonToxic), nil
	}

	if err := e.states.Set(ctx, id, state.Searching, e.cfg.QueueSessionTimeout); err != nil {
		return Result{}, err
	}

	res, err := e.search(ctx, id)
	if err != nil {
		e.rollback(ctx, id)
		return Result{}, err
	}
	if res.Outcome == OutcomeRejected {
		// Queue full: undo the searching state, nothing else was touched.
		e.rollback(ctx, id)
	}
	return res, nil
}

// search runs the ranked scan and the fallback join. The caller has already
// moved the requester to searching.
func (e *Engine) search(ctx context.Context, id int64) (Result, error) {
	members, err := e.queue.Members(ctx)
	if err != nil {
		return Result{}, err
	}

	myProfile, err := e.profiles.GetProfile(ctx, id)
	if err != nil {
		return Result{}, err
	}
	myPrefs, err := e.prefs.GetPreferences(ctx, id)
	if err != nil {
		return Result{}, err
	}

	// Filter the snapshot down to eligible, mutually compatible waiters.
	candidates := make([]candidate, 0, len(members))
	for _, waiter := range members {
		if waiter == id {
			continue
		}

		rep, err := e.ratings.GetReputation(ctx, waiter)
		if err != nil {
			return Result{}, err
		}
		if !rep.Eligible() {
			continue
		}

		theirProfile, err := e.profiles.GetProfile(ctx, waiter)
		if err != nil {
			return Result{}, err
		}
		theirPrefs, err := e.prefs.GetPreferences(ctx, waiter)
		if err != nil {
			return Result{}, err
		}
		if !compat.Compatible(myProfile, myPrefs, theirProfile, theirPrefs) {
			continue
		}

		candidates = append(candidates, candidate{id: waiter, score: rep.Score()})
	}

	// Best reputation first; the stable sort keeps FIFO order within equal
	// scores, so long-waiting participants win ties.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	for _, cand := range candidates {
		removed, err := e.queue.Leave(ctx, cand.id)
		if err != nil {
			return Result{}, err
		}
		if !removed {
			// Someone else took this waiter between snapshot and now.
			continue
		}

		created, err := e.pairings.Create(ctx, id, cand.id, e.cfg.ConversationTimeout)
		if err != nil {
			return Result{}, err
		}
		if !created {
			// The waiter already has a live pairing; their queue entry was
			// stale and is gone now. Try the next ranked candidate.
			log.Printf("[engine] stale queue entry: %d already paired", cand.id)
			continue
		}

		e.notifyChatStarted(ctx, id, cand.id)
		return Matched(cand.id), nil
	}

	// Fallback fast path: everything in the snapshot has been inspected
	// (taken, rejected, or stale), so only pair with a genuinely new waiter.
	// A popped waiter who turns out to already be paired held a stale queue
	// entry; dropping it is cleanup, and we retry with them excluded.
	exclude := members
	for attempt := 0; attempt < fallbackAttempts; attempt++ {
		partner, enqueued, err := e.queue.TryPairOrEnqueue(ctx, id, exclude)
		if errors.Is(err, queue.ErrQueueFull) {
			return Rejected(ReasonQueueFull), nil
		}
		if err != nil {
			return Result{}, err
		}
		if enqueued {
			return Queued(), nil
		}

		created, err := e.pairings.Create(ctx, id, partner, e.cfg.ConversationTimeout)
		if err != nil {
			return Result{}, err
		}
		if created {
			e.notifyChatStarted(ctx, id, partner)
			return Matched(partner), nil
		}
		log.Printf("[engine] fallback partner %d already paired, retrying", partner)
		exclude = append(exclude, partner)
	}

	return Result{}, fmt.Errorf("engine: no stable fallback partner for %d after %d attempts", id, fallbackAttempts)
}

// notifyChatStarted bumps both participants' conversation counters. Counter
// failures do not unwind a committed pairing; they are logged and dropped.
func (e *Engine) notifyChatStarted(ctx context.Context, a, b int64) {
	if err := e.ratings.OnChatStarted(ctx, a); err != nil {
		log.Printf("[engine] chat-started notify %d: %v", a, err)
	}
	if err := e.ratings.OnChatStarted(ctx, b); err != nil {
		log.Printf("[engine] chat-started notify %d: %v", b, err)
	}
}

// rollback forces the participant back to idle and out of the queue after a
// failed or refused search. Best effort: rollback failures are logged, and
// the state TTL bounds the damage regardless.
func (e *Engine) rollback(ctx context.Context, id int64) {
	if err := e.states.SetIdle(ctx, id, e.cfg.IdleGrace); err != nil {
		log.Printf("[engine] rollback state %d: %v", id, err)
	}
	if _, err := e.queue.Leave(ctx, id); err != nil {
		log.Printf("[engine] rollback dequeue %d: %v", id, err)
	}
}

// EndChat ends the participant's conversation or search. It returns the
// partner id when a live pairing was torn down, and hadPartner=false when
// the participant was merely queued or already idle. Calling it twice in a
// row returns the partner the first time and nothing the second.
func (e *Engine) EndChat(ctx context.Context, id int64) (partner int64, hadPartner bool, err error) {
	partner, ended, err := e.pairings.End(ctx, id, e.cfg.IdleGrace)
	if errors.Is(err, pairing.ErrMirrorMissing) {
		// One-sided record: the store already failed closed. Treat as
		// already ended rather than propagating the corruption.
		log.Printf("[engine] one-sided pairing for %d (partner %d), failed closed", id, partner)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if ended {
		return partner, true, nil
	}

	// Not paired — maybe still waiting in the queue.
	removed, err := e.queue.Leave(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if removed {
		if err := e.states.SetIdle(ctx, id, e.cfg.IdleGrace); err != nil {
			return 0, false, err
		}
	}
	return 0, false, nil
}

// CancelSearch removes the participant from the waiting queue and idles
// them. Unlike EndChat it never touches a live pairing: cancelling a search
// while chatting is a no-op, removed=false.
func (e *Engine) CancelSearch(ctx context.Context, id int64) (bool, error) {
	removed, err := e.queue.Leave(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		if err := e.states.SetIdle(ctx, id, e.cfg.IdleGrace); err != nil {
			return false, err
		}
	}
	return removed, nil
}

// GetState returns the participant's current lifecycle state, Idle when no
// record exists.
func (e *Engine) GetState(ctx context.Context, id int64) (state.Status, error) {
	return e.states.Get(ctx, id)
}

// GetPartner returns the participant's current partner, if any. A one-sided
// pairing record is cleaned up and reported as no partner.
func (e *Engine) GetPartner(ctx context.Context, id int64) (int64, bool, error) {
	partner, ok, err := e.pairings.Partner(ctx, id)
	if errors.Is(err, pairing.ErrMirrorMissing) {
		log.Printf("[engine] one-sided pairing for %d, cleaning up", id)
		if _, _, endErr := e.pairings.End(ctx, id, e.cfg.IdleGrace); endErr != nil &&
			!errors.Is(endErr, pairing.ErrMirrorMissing) {
			log.Printf("[engine] cleanup for %d: %v", id, endErr)
		}
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return partner, ok, nil
}

// QueueSize returns the number of participants currently waiting.
func (e *Engine) QueueSize(ctx context.Context) (int64, error) {
	return e.queue.Size(ctx)
}
