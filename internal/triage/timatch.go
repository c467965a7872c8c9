package triage

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/ioc"
)

// DefaultTIConcurrency bounds the reputation lookup fan-out.
const DefaultTIConcurrency = 4

// tiMatchStage checks every external-ip/domain/url/hash entity against the
// reputation service and derives the early verdict. Lookups are independent and run
// concurrently under a bounded semaphore; the output ordering stays stable
// (category order ip, domain, url, hash; discovery order within a category)
// regardless of completion order.
//
// A failed lookup degrades to "not checked" for that entity only: it is not a
// stage error and does not abort the stage. A not-found lookup counts as
// checked-and-clean. The asymmetry is deliberate.
type tiMatchStage struct {
	client      ReputationClient
	concurrency int
	logger      log.Logger
	hooks       PipelineHooks
}

func (tiMatchStage) Name() string { return "ti_matching" }

type tiTarget struct {
	kind  ioc.Kind
	value string
}

func (s tiMatchStage) Execute(ctx context.Context, st *State) (*Update, error) {
	// No reputation client configured, or extraction failed entirely:
	// short-circuit and leave the verdict deferred.
	if s.client == nil || st.Entities == nil {
		return &Update{TIMatching: &TIMatching{}}, nil
	}

	targets := lookupTargets(st.Entities)

	limit := s.concurrency
	if limit <= 0 {
		limit = DefaultTIConcurrency
	}

	// One slot per target keeps result ordering independent of completion
	// order; nil slots mean the lookup failed and the entity stays unchecked.
	reps := make([]*Reputation, len(targets))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, tgt := range targets {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, tgt tiTarget) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			start := time.Now()
			rep, err := s.client.Lookup(ctx, tgt.kind, tgt.value)
			outcome := "ok"
			if err != nil {
				outcome = "error"
				s.logger.Warn(ctx, "reputation lookup failed",
					"kind", string(tgt.kind),
					"value", tgt.value,
					"error", err,
				)
			} else {
				reps[i] = rep
			}
			if s.hooks.OnReputationLookup != nil {
				s.hooks.OnReputationLookup(string(tgt.kind), outcome, time.Since(start).Seconds())
			}
		}(i, tgt)
	}
	wg.Wait()

	// Cancelled mid-flight: abandon partial results, the executor turns this
	// into an invocation-fatal error.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ti := &TIMatching{}
	for i, tgt := range targets {
		rep := reps[i]
		if rep == nil {
			continue
		}
		ti.TotalChecked++
		if rep.Detected {
			ti.MaliciousFound++
		}
		ti.Results = append(ti.Results, TiMatchItem{
			EntityType:  string(tgt.kind),
			EntityValue: tgt.value,
			Malicious:   rep.Positives,
			Total:       rep.Total,
		})
	}

	upd := &Update{TIMatching: ti}
	if v := determineVerdict(st.RawAlert, st.Entities, ti); v != nil {
		upd.Verdict = v
	}
	return upd, nil
}

// lookupTargets flattens the checkable entity categories in their fixed
// order. Hashes go out under the generic kind regardless of sub-type;
// file paths, process paths, cmdlines, accounts and emails are never sent.
func lookupTargets(e *Entities) []tiTarget {
	var targets []tiTarget
	for _, v := range e.IPs {
		// Private/reserved IPs are not checkable: they are never sent to the
		// gateway and count toward neither totalChecked nor maliciousFound.
		if !ioc.External(v) {
			continue
		}
		targets = append(targets, tiTarget{ioc.KindIP, v})
	}
	for _, v := range e.Domains {
		targets = append(targets, tiTarget{ioc.KindDomain, v})
	}
	for _, v := range e.URLs {
		targets = append(targets, tiTarget{ioc.KindURL, v})
	}
	for _, v := range e.Hashes {
		targets = append(targets, tiTarget{ioc.KindHash, v})
	}
	return targets
}
