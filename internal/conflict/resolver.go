// Package conflict reconciles a locally cached record with the server's copy
// using last-write-wins on updated_at.
package conflict

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/flashsync/internal/types"
)

// Strategy names which side of a resolution won.
type Strategy string

const (
	StrategyLocal  Strategy = "local"
	StrategyRemote Strategy = "remote"
	StrategyMerge  Strategy = "merge"
)

// ConflictWindow is the updated_at distance under which two differing
// versions are reported as a probable concurrent edit.
const ConflictWindow = 5 * time.Second

// Result is the outcome of a resolution.
type Result[T types.Entity] struct {
	Resolved T
	Strategy Strategy
}

// MergeFunc combines two versions with identical updated_at.
type MergeFunc[T types.Entity] func(local, remote T, now time.Time) T

// Resolve picks the newer of local and remote by updated_at and falls back
// to merge when they are equal. It is pure given now.
func Resolve[T types.Entity](local, remote T, now time.Time, merge MergeFunc[T]) Result[T] {
	lt, rt := local.Updated(), remote.Updated()
	switch {
	case lt.After(rt):
		return Result[T]{Resolved: local, Strategy: StrategyLocal}
	case rt.After(lt):
		return Result[T]{Resolved: remote, Strategy: StrategyRemote}
	default:
		return Result[T]{Resolved: merge(local, remote, now), Strategy: StrategyMerge}
	}
}

// HasConflict reports whether local and remote were written within
// ConflictWindow of each other yet differ. It is advisory only.
func HasConflict[T types.Entity](local, remote T) bool {
	diff := local.Updated().Sub(remote.Updated())
	if diff < 0 {
		diff = -diff
	}
	if diff >= ConflictWindow {
		return false
	}
	l, err := json.Marshal(local)
	if err != nil {
		return true
	}
	r, err := json.Marshal(remote)
	if err != nil {
		return true
	}
	return !bytes.Equal(l, r)
}

// Resolver binds a clock to the entity specific resolutions.
type Resolver struct {
	Now func() time.Time
}

// New returns a Resolver using the wall clock.
func New() *Resolver {
	return &Resolver{Now: time.Now}
}

// CardSet resolves two versions of a card set.
func (r *Resolver) CardSet(local, remote types.CardSet) Result[types.CardSet] {
	return Resolve(local, remote, r.Now(), MergeCardSets)
}

// Session resolves two versions of a study session.
func (r *Resolver) Session(local, remote types.StudySession) Result[types.StudySession] {
	return Resolve(local, remote, r.Now(), MergeSessions)
}

// MergeCardSets starts from remote and merges the card lists keyed by
// lowercased terminology: remote cards keep their order, a local card with
// the same key replaces the remote one in place, other local cards are
// appended. The result is stamped with now.
func MergeCardSets(local, remote types.CardSet, now time.Time) types.CardSet {
	merged := remote
	merged.Cards = mergeByKey(remote.Cards, local.Cards, func(c types.Card) string {
		return strings.ToLower(c.Terminology)
	})
	merged.UpdatedAt = now
	return merged
}

// MergeSessions starts from remote, unions the attempts keyed by card and
// attempt time with local entries overriding, and recomputes the totals.
func MergeSessions(local, remote types.StudySession, now time.Time) types.StudySession {
	merged := remote
	merged.Attempts = mergeByKey(remote.Attempts, local.Attempts, func(a types.CardAttempt) string {
		return a.CardID + "|" + a.AttemptedAt.UTC().Format(time.RFC3339Nano)
	})
	sort.SliceStable(merged.Attempts, func(i, j int) bool {
		return merged.Attempts[i].AttemptedAt.Before(merged.Attempts[j].AttemptedAt)
	})
	if local.EndTime.After(merged.EndTime) {
		merged.EndTime = local.EndTime
	}
	merged.Summarize()
	merged.UpdatedAt = now
	return merged
}

func mergeByKey[E any](base, overlay []E, key func(E) string) []E {
	out := make([]E, 0, len(base)+len(overlay))
	index := make(map[string]int, len(base)+len(overlay))
	for _, e := range base {
		k := key(e)
		if i, ok := index[k]; ok {
			out[i] = e
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	for _, e := range overlay {
		k := key(e)
		if i, ok := index[k]; ok {
			out[i] = e
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return out
}
