// Package enforcer answers access control queries for one terminal:
// whether an application may open a channel to an applet, and whether
// an individual command may pass over an open channel. Decisions come
// from the card's rule set via the rule store and are cached until an
// explicit refresh. The enforcer fails closed: no rules, ambiguous
// rules or an unreachable rule source all produce denials.
package enforcer

import (
	"encoding/hex"
	"strings"
	"sync"

	"github.com/openmobile/omapi/pkg/access"
	"github.com/openmobile/omapi/pkg/apdu"
	"github.com/openmobile/omapi/pkg/rules"
	"github.com/pion/logging"
	"golang.org/x/sync/singleflight"
)

// Enforcer caches and serves access decisions for one terminal.
type Enforcer struct {
	store *rules.Store
	ex    rules.Exchanger
	log   logging.LeveledLogger

	mu    sync.RWMutex
	cache map[string]access.ChannelAccess

	// flight collapses concurrent rule fetches into one card
	// transaction.
	flight singleflight.Group
}

// New creates an enforcer over the given store. ex supplies the card
// transactions used when a decision forces a rule fetch.
func New(store *rules.Store, ex rules.Exchanger, lf logging.LoggerFactory) *Enforcer {
	e := &Enforcer{
		store: store,
		ex:    ex,
		cache: make(map[string]access.ChannelAccess),
	}
	if lf != nil {
		e.log = lf.NewLogger("enforcer")
	}
	return e
}

// Load fetches the rule set now if it is not already loaded.
// Concurrent callers share one fetch.
func (e *Enforcer) Load() error {
	if e.store.Loaded() {
		return nil
	}
	_, err, _ := e.flight.Do("load", func() (interface{}, error) {
		if e.store.Loaded() {
			return nil, nil
		}
		return nil, e.store.Load(e.ex)
	})
	return err
}

// Refresh drops the decision cache and the loaded rule set. The next
// Decide re-fetches from the card.
func (e *Enforcer) Refresh() {
	e.mu.Lock()
	e.cache = make(map[string]access.ChannelAccess)
	e.mu.Unlock()
	e.store.Invalidate()
}

// RulesLoaded reports whether a rule set is currently loaded.
func (e *Enforcer) RulesLoaded() bool { return e.store.Loaded() }

// Source reports where the loaded rules came from.
func (e *Enforcer) Source() rules.Source { return e.store.Source() }

// Decide returns the access decision for an application (identified by
// its certificate hashes) targeting the given applet. A nil aid means
// the card's default application. Decisions are cached; identical
// queries between refreshes return identical results.
func (e *Enforcer) Decide(hashes [][]byte, aid []byte) access.ChannelAccess {
	key := cacheKey(hashes, aid)

	e.mu.RLock()
	cached, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return cached.Clone()
	}

	if err := e.Load(); err != nil {
		// Not cached: a successful refresh must be able to change
		// the answer.
		if e.log != nil {
			e.log.Warnf("rule fetch failed, denying: %v", err)
		}
		return access.Denied("access rules unavailable")
	}

	rs, ok := e.store.Rules()
	if !ok {
		return access.Denied("access rules unavailable")
	}

	decision := evaluate(rs, hashes, aid)

	e.mu.Lock()
	e.cache[key] = decision.Clone()
	e.mu.Unlock()

	if e.log != nil {
		e.log.Debugf("decision for aid %s: %s", hex.EncodeToString(aid), decision.Access)
	}
	return decision
}

// CheckCommand reports whether the command header may pass under the
// given decision.
func (e *Enforcer) CheckCommand(a *access.ChannelAccess, h apdu.Header) bool {
	return a.CheckCommand(h)
}

// evaluate applies rule precedence: specific beats wildcard, with the
// applet reference weighing more than the application reference.
func evaluate(rs []access.Rule, hashes [][]byte, aid []byte) access.ChannelAccess {
	type tier struct {
		hashWildcard bool
		aidWildcard  bool
	}
	tiers := []tier{
		{false, false},
		{true, false},
		{false, true},
		{true, true},
	}

	for _, tr := range tiers {
		for _, r := range rs {
			if r.Hash.Wildcard() != tr.hashWildcard || r.AID.Wildcard() != tr.aidWildcard {
				continue
			}
			if !r.AID.Matches(aid) {
				continue
			}
			if !matchesAnyHash(r.Hash, hashes) {
				continue
			}
			return r.Access.Clone()
		}
	}
	return access.Denied("no matching access rule")
}

func matchesAnyHash(ref access.HashRef, hashes [][]byte) bool {
	if ref.Wildcard() {
		return true
	}
	for _, h := range hashes {
		if ref.Matches(h) {
			return true
		}
	}
	return false
}

func cacheKey(hashes [][]byte, aid []byte) string {
	parts := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		parts = append(parts, hex.EncodeToString(h))
	}
	parts = append(parts, "@"+hex.EncodeToString(aid))
	return strings.Join(parts, "|")
}
