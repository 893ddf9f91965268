package linking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/carecontext"
	"github.com/10bedicu/care-abdm/internal/gateway"
	"github.com/10bedicu/care-abdm/internal/ledger"
)

var timeNow = time.Now

// groupKey identifies one (facility, patient) pair whose pending links are
// consolidated into a single gateway call.
type groupKey struct {
	hfID       string
	abhaNumber string
}

func groupByFacility(txns []*ledger.Transaction) map[groupKey][]*ledger.Transaction {
	groups := make(map[groupKey][]*ledger.Transaction)
	for _, txn := range txns {
		key := groupKey{hfID: txn.MetaString("hf_id"), abhaNumber: txn.MetaString("abha_number")}
		groups[key] = append(groups[key], txn)
	}
	return groups
}

// reissueGroup replaces the pending rows of one (facility, patient) pair
// with consolidated link calls. Care contexts are re-resolved from the EMR
// rather than replayed from the stored payload, so records deleted or
// amended since the first attempt link with current data. New rows are
// recorded before the superseded ones are cancelled; a crash in between
// produces a duplicate link, which the exchange treats as a no-op, never a
// lost one.
func (s *Service) reissueGroup(ctx context.Context, key groupKey, group []*ledger.Transaction, token string) error {
	var (
		abhaAddress string
		patientName string
		seen        = make(map[string]bool)
		refs        []string
	)
	for _, txn := range group {
		if abhaAddress == "" {
			abhaAddress = txn.MetaString("abha_address")
		}
		if patientName == "" {
			patientName = txn.MetaString("patient_name")
		}
		for _, ref := range txn.MetaStrings("care_contexts") {
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
	}

	var descs []*carecontext.Descriptor
	for _, ref := range refs {
		desc, err := s.resolver.Resolve(ctx, ref)
		if err != nil {
			s.log.Warn().Err(err).Str("reference", ref).Msg("skipping unresolvable care context")
			continue
		}
		descs = append(descs, desc)
	}

	base := map[string]any{
		"type":          MetadataLinkType,
		"hf_id":         key.hfID,
		"abha_number":   key.abhaNumber,
		"abha_address":  abhaAddress,
		"patient_name":  patientName,
		"gender":        group[0].MetaString("gender"),
		"year_of_birth": group[0].MetaInt("year_of_birth"),
	}

	for start := 0; start < len(descs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(descs) {
			end = len(descs)
		}
		batch := descs[start:end]

		requestID, err := s.issueLink(ctx, token, key.abhaNumber, abhaAddress, patientName, batch)
		status := ledger.StatusInitiated
		if err != nil {
			s.log.Error().Err(err).Str("hf_id", key.hfID).Int("count", len(batch)).
				Msg("consolidated link call failed")
			status = ledger.StatusFailed
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}

		meta := make(map[string]any, len(base)+1)
		for k, v := range base {
			meta[k] = v
		}
		contexts := make([]string, len(batch))
		for i, d := range batch {
			contexts[i] = d.Reference
		}
		meta["care_contexts"] = contexts

		if _, err := s.ledger.Record(ctx, requestID, ledger.TypeLinkCareContext, group[0].CreatedBy, meta, status); err != nil {
			s.log.Error().Err(err).Str("hf_id", key.hfID).Msg("recording consolidated link failed")
		}
	}

	for _, txn := range group {
		if err := s.ledger.Settle(ctx, txn.ID, ledger.StatusCancelled); err != nil {
			s.log.Error().Err(err).Str("transaction_id", txn.ID.String()).
				Msg("cancelling superseded link row failed")
		}
	}
	return nil
}

// Sweeper re-drives link rows that never reached a terminal status, once a
// day. Failures here are re-attempted on the next run; nothing is dropped.
type Sweeper struct {
	svc        *Service
	stuckAfter time.Duration
	hourUTC    int
	mu         sync.Mutex
	log        zerolog.Logger
}

func NewSweeper(svc *Service, stuckAfter time.Duration, hourUTC int, log zerolog.Logger) *Sweeper {
	if stuckAfter <= 0 {
		stuckAfter = 24 * time.Hour
	}
	return &Sweeper{
		svc:        svc,
		stuckAfter: stuckAfter,
		hourUTC:    hourUTC,
		log:        log.With().Str("component", "link_sweeper").Logger(),
	}
}

// RunOnce performs a single sweep. At most one sweep runs at a time; an
// overlapping call returns immediately.
func (sw *Sweeper) RunOnce(ctx context.Context) error {
	if !sw.mu.TryLock() {
		sw.log.Warn().Msg("sweep already in progress, skipping")
		return nil
	}
	defer sw.mu.Unlock()

	cutoff := timeNow().Add(-sw.stuckAfter)
	stuck, err := sw.svc.ledger.FindStuck(ctx, ledger.TypeLinkCareContext, cutoff)
	if err != nil {
		return err
	}

	var pending []*ledger.Transaction
	for _, txn := range stuck {
		if txn.MetaString("type") == MetadataLinkType {
			pending = append(pending, txn)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sw.log.Info().Int("count", len(pending)).Msg("re-driving stuck link transactions")

	for key, group := range groupByFacility(pending) {
		abhaAddress := ""
		for _, txn := range group {
			if abhaAddress = txn.MetaString("abha_address"); abhaAddress != "" {
				break
			}
		}
		if abhaAddress == "" {
			sw.log.Warn().Str("hf_id", key.hfID).Msg("pending links without abha address, skipping group")
			continue
		}

		token, ok := sw.svc.tokens.GetString(tokenKey(abhaAddress))
		if !ok {
			// No usable token. Request one and leave the rows pending;
			// the on-generate-token callback re-drives them.
			if _, err := sw.svc.gw.GenerateLinkToken(ctx, &gateway.GenerateLinkTokenPayload{
				ABHAAddress: abhaAddress,
				Name:        group[0].MetaString("patient_name"),
				Gender:      group[0].MetaString("gender"),
				YearOfBirth: group[0].MetaInt("year_of_birth"),
			}); err != nil {
				sw.log.Error().Err(err).Str("abha_address", abhaAddress).Msg("link token request failed")
			}
			continue
		}

		if err := sw.svc.reissueGroup(ctx, key, group, token); err != nil {
			sw.log.Error().Err(err).Str("hf_id", key.hfID).Msg("re-issuing link group failed")
		}
	}
	return nil
}

// Run sweeps once a day at hourUTC until the context is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(time.Until(nextRunAt(timeNow().UTC(), sw.hourUTC)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := sw.RunOnce(ctx); err != nil {
			sw.log.Error().Err(err).Msg("link sweep failed")
		}
	}
}

func nextRunAt(now time.Time, hourUTC int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
