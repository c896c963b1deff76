// Package batch stages multi-message mutations as durable drafts and
// commits them against the remote mailbox, recording an outcome for every
// target so partial failures can be retried.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	imap "github.com/emersion/go-imap/v2"
	"github.com/wesm/msgctl/internal/filter"
	msgimap "github.com/wesm/msgctl/internal/imap"
	"github.com/wesm/msgctl/internal/store"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of UIDs sent per remote command.
const DefaultBatchSize = 100

// DefaultArchiveFolder is where archive moves messages unless configured.
const DefaultArchiveFolder = "Archive"

// ErrNoTargets is returned by Stage when the request names no messages.
var ErrNoTargets = errors.New("no messages to act on")

// Resolver maps references to current locations. *store.Store and
// *engine.Engine (which also relocates moved messages) implement it.
type Resolver interface {
	ResolveRefs(ctx context.Context, account string, refs []store.Ref) (resolved, unresolved []store.Ref, err error)
}

// Engine stages and commits drafts for one mailbox.
type Engine struct {
	store         *store.Store
	mbox          msgimap.Mutator
	resolver      Resolver
	logger        *slog.Logger
	progress      Progress
	batchSize     int
	limiter       *rate.Limiter
	archiveFolder string
}

// New creates a batch engine.
func New(st *store.Store, mbox msgimap.Mutator) *Engine {
	return &Engine{
		store:         st,
		mbox:          mbox,
		resolver:      st,
		logger:        slog.Default(),
		progress:      NullProgress{},
		batchSize:     DefaultBatchSize,
		archiveFolder: DefaultArchiveFolder,
	}
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// WithProgress sets the progress reporter.
func (e *Engine) WithProgress(p Progress) *Engine {
	e.progress = p
	return e
}

// WithResolver sets how targets are resolved to current locations.
func (e *Engine) WithResolver(r Resolver) *Engine {
	e.resolver = r
	return e
}

// WithBatchSize sets the number of UIDs per remote command.
func (e *Engine) WithBatchSize(n int) *Engine {
	if n > 0 {
		e.batchSize = n
	}
	return e
}

// WithRateLimit paces remote commands to qps per second. Zero disables
// pacing.
func (e *Engine) WithRateLimit(qps float64) *Engine {
	if qps > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(qps), 1)
	} else {
		e.limiter = nil
	}
	return e
}

// WithArchiveFolder sets the destination of archive drafts.
func (e *Engine) WithArchiveFolder(name string) *Engine {
	if name != "" {
		e.archiveFolder = filter.CanonicalFolder(name)
	}
	return e
}

// StageRequest describes a draft to stage. Targets are the union of
// ShadowIDs, Refs, the selection (when Selection is set) and the last
// query results (when Last is set).
type StageRequest struct {
	Account   string
	Action    store.ActionKind
	Params    store.DraftParams
	ShadowIDs []int64
	Refs      []store.Ref
	Selection bool
	Last      bool
	// Folder limits the selection to one folder and picks which folder's
	// last results are used. Empty means the whole selection and the most
	// recent query.
	Folder string
}

// StageResult is the outcome of Stage.
type StageResult struct {
	Draft       *store.Draft
	Missing     []int64 // shadow IDs that no longer resolve
	Description string
}

// Stage resolves the request's targets and persists them as the account's
// draft. Targets that no longer resolve are reported in Missing; if none
// resolve, a *store.IdentityNotFoundError is returned. A
// *store.DraftConflictError is returned if a draft already exists.
func (e *Engine) Stage(ctx context.Context, req StageRequest) (*StageResult, error) {
	if req.Account == "" {
		return nil, errors.New("account is required")
	}
	params, err := e.validate(ctx, req.Action, req.Params)
	if err != nil {
		return nil, err
	}

	refs, err := e.collect(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, ErrNoTargets
	}

	resolved, unresolved, err := e.resolver.ResolveRefs(ctx, req.Account, refs)
	if err != nil {
		return nil, err
	}
	var missing []int64
	for _, r := range unresolved {
		if r.ShadowID != 0 {
			missing = append(missing, r.ShadowID)
		}
	}
	if len(resolved) == 0 {
		if len(missing) == 0 {
			return nil, ErrNoTargets
		}
		return nil, &store.IdentityNotFoundError{ShadowIDs: missing}
	}

	d := &store.Draft{
		Account: req.Account,
		Action:  req.Action,
		Params:  params,
	}
	seen := make(map[string]bool)
	for _, r := range resolved {
		key := r.Folder + "\x00" + strconv.FormatUint(uint64(r.UID), 10)
		if seen[key] {
			continue
		}
		seen[key] = true
		d.Targets = append(d.Targets, store.DraftTarget{
			ShadowID:  r.ShadowID,
			MessageID: r.MessageID,
			Folder:    r.Folder,
			UID:       r.UID,
			Subject:   r.Subject,
		})
	}
	d.SourceFolder = commonFolder(d.Targets)

	if err := e.store.StageDraft(ctx, d); err != nil {
		return nil, err
	}

	e.logger.Info("staged draft",
		"account", d.Account,
		"id", d.ID,
		"action", d.Action,
		"targets", len(d.Targets),
		"missing", len(missing),
	)
	return &StageResult{Draft: d, Missing: missing, Description: Describe(d)}, nil
}

// validate checks and normalizes action parameters.
func (e *Engine) validate(ctx context.Context, action store.ActionKind, p store.DraftParams) (store.DraftParams, error) {
	switch action {
	case store.ActionFlag:
		if p.Flags == nil || !p.Flags.HasAnyAction() {
			return p, errors.New("flag requires at least one change")
		}
		if p.Flags.MoveTo != "" {
			dest, err := e.checkFolder(ctx, p.Flags.MoveTo)
			if err != nil {
				return p, err
			}
			p.Flags.MoveTo = dest
		}
	case store.ActionMove, store.ActionCopy:
		if p.DestFolder == "" {
			return p, fmt.Errorf("%s requires a destination folder", action)
		}
		dest, err := e.checkFolder(ctx, p.DestFolder)
		if err != nil {
			return p, err
		}
		p.DestFolder = dest
	case store.ActionArchive:
		if p.DestFolder == "" {
			p.DestFolder = e.archiveFolder
		}
		dest, err := e.checkFolder(ctx, p.DestFolder)
		if err != nil {
			return p, err
		}
		p.DestFolder = dest
	case store.ActionDelete:
		if !p.Permanent {
			trash, err := e.mbox.TrashFolder(ctx)
			if err != nil {
				return p, fmt.Errorf("find trash folder: %w", err)
			}
			p.DestFolder = trash
		}
	default:
		return p, fmt.Errorf("unknown action %q", action)
	}
	return p, nil
}

func (e *Engine) checkFolder(ctx context.Context, name string) (string, error) {
	name = filter.CanonicalFolder(name)
	ok, err := e.mbox.FolderExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("check folder %q: %w", name, err)
	}
	if !ok {
		return "", fmt.Errorf("folder %q does not exist", name)
	}
	return name, nil
}

// collect gathers the raw references a request names.
func (e *Engine) collect(ctx context.Context, req StageRequest) ([]store.Ref, error) {
	var refs []store.Ref
	for _, id := range req.ShadowIDs {
		refs = append(refs, store.Ref{ShadowID: id})
	}
	refs = append(refs, req.Refs...)

	folder := filter.CanonicalFolder(req.Folder)
	if req.Selection {
		entries, err := e.store.GetSelection(ctx, req.Account, folder)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			refs = append(refs, entry.Ref)
		}
	}
	if req.Last {
		if folder == "" {
			q, err := e.store.LastQuery(ctx, req.Account, "")
			if err != nil {
				return nil, err
			}
			if q == nil {
				return nil, errors.New("no previous query results")
			}
			folder = q.Folder
		}
		last, err := e.store.LastResults(ctx, req.Account, folder)
		if err != nil {
			return nil, err
		}
		refs = append(refs, last...)
	}
	return refs, nil
}

func commonFolder(targets []store.DraftTarget) string {
	if len(targets) == 0 {
		return ""
	}
	folder := targets[0].Folder
	for _, t := range targets[1:] {
		if t.Folder != folder {
			return ""
		}
	}
	return folder
}

// Discard drops the account's draft without touching the server.
func (e *Engine) Discard(ctx context.Context, account string) error {
	if err := e.store.DiscardDraft(ctx, account); err != nil {
		return err
	}
	e.logger.Info("discarded draft", "account", account)
	return nil
}

// Failure describes a target that did not succeed.
type Failure struct {
	ShadowID int64  `json:"id,omitempty"`
	Folder   string `json:"folder"`
	UID      uint32 `json:"uid"`
	Subject  string `json:"subject,omitempty"`
	Error    string `json:"error"`
}

// Outcome summarizes a commit.
type Outcome struct {
	DraftID     string           `json:"draft_id"`
	Action      store.ActionKind `json:"action"`
	Description string           `json:"description"`
	Committed   bool             `json:"committed"`
	Partial     bool             `json:"partial"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	Pending     int              `json:"pending"`
	Failures    []Failure        `json:"failures,omitempty"`
	// Aborted holds the error that stopped the commit early, leaving
	// Pending targets unattempted.
	Aborted string `json:"aborted,omitempty"`
}

// target is a draft target with its current location.
type target struct {
	pos int
	ref store.Ref
}

// Commit applies the account's draft. Only targets that have not
// succeeded yet are attempted, so committing a partial draft retries its
// failures. When every target has succeeded the draft is removed;
// otherwise it is kept with status partial.
func (e *Engine) Commit(ctx context.Context, account string) (*Outcome, error) {
	d, err := e.store.GetDraft(ctx, account)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, store.ErrNoDraft
	}
	if err := e.store.SetDraftStatus(ctx, account, store.DraftCommitting); err != nil {
		return nil, err
	}

	remaining := d.Remaining()
	priorSucceeded := len(d.Targets) - len(remaining)

	e.logger.Info("committing draft",
		"account", account,
		"id", d.ID,
		"action", d.Action,
		"targets", len(d.Targets),
		"remaining", len(remaining),
	)
	e.progress.OnStart(Describe(d), len(remaining))

	groups, unresolved, err := e.locate(ctx, account, remaining)
	if err != nil {
		e.markPartial(account)
		return nil, err
	}

	succeeded, failed, processed := 0, 0, 0
	if len(unresolved) > 0 {
		outcomes := make([]store.TargetOutcome, len(unresolved))
		for i, t := range unresolved {
			outcomes[i] = store.TargetOutcome{
				Position: t.pos,
				Outcome:  store.OutcomeFailed,
				Error:    (&store.IdentityNotFoundError{ShadowIDs: []int64{t.ref.ShadowID}}).Error(),
			}
		}
		if err := e.store.RecordTargetOutcomes(ctx, account, outcomes); err != nil {
			e.markPartial(account)
			return nil, err
		}
		failed += len(unresolved)
		processed += len(unresolved)
	}

	var aborted error
	for _, g := range groups {
		if aborted != nil {
			break
		}
		steps, err := plan(d, g.folder)
		if err != nil {
			aborted = err
			break
		}
		for start := 0; start < len(g.targets); start += e.batchSize {
			if err := ctx.Err(); err != nil {
				e.markPartial(account)
				return nil, err
			}
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					e.markPartial(account)
					return nil, err
				}
			}

			end := min(start+e.batchSize, len(g.targets))
			chunk := g.targets[start:end]
			results, chunkErr := e.applyChunk(ctx, g.folder, chunk, steps)

			outcomes := make([]store.TargetOutcome, len(results))
			for i, r := range results {
				outcomes[i] = store.TargetOutcome{Position: r.pos, Outcome: store.OutcomeSucceeded}
				if r.err != nil {
					outcomes[i].Outcome = store.OutcomeFailed
					outcomes[i].Error = r.err.Error()
					failed++
				} else {
					succeeded++
				}
			}
			if err := e.store.RecordTargetOutcomes(ctx, account, outcomes); err != nil {
				e.markPartial(account)
				return nil, err
			}
			e.updateIdentities(ctx, results)

			processed += len(chunk)
			e.progress.OnProgress(processed, succeeded, failed)

			if chunkErr != nil {
				// The connection is unusable; later chunks would fail the
				// same way and are left pending for the next commit.
				aborted = chunkErr
				break
			}
		}
	}

	out := &Outcome{
		DraftID:     d.ID,
		Action:      d.Action,
		Description: Describe(d),
	}
	if aborted != nil {
		out.Aborted = aborted.Error()
		e.logger.Warn("commit stopped early", "account", account, "error", aborted)
	}

	completed, err := e.store.CompleteDraft(ctx, account)
	if err != nil {
		return nil, err
	}
	if completed {
		out.Committed = true
		out.Succeeded = len(d.Targets)
	} else {
		if err := e.store.SetDraftStatus(ctx, account, store.DraftPartial); err != nil {
			return nil, err
		}
		final, err := e.store.GetDraft(ctx, account)
		if err != nil {
			return nil, err
		}
		out.Partial = true
		out.Succeeded, out.Failed, out.Pending = final.Counts()
		for _, t := range final.Targets {
			if t.Outcome != store.OutcomeFailed {
				continue
			}
			out.Failures = append(out.Failures, Failure{
				ShadowID: t.ShadowID,
				Folder:   t.Folder,
				UID:      t.UID,
				Subject:  t.Subject,
				Error:    t.Error,
			})
		}
	}

	e.progress.OnComplete(out.Succeeded, out.Failed)
	e.logger.Info("commit complete",
		"account", account,
		"id", d.ID,
		"succeeded", out.Succeeded,
		"succeeded_now", out.Succeeded-priorSucceeded,
		"failed", out.Failed,
		"pending", out.Pending,
	)
	return out, nil
}

// markPartial records that a commit stopped before finishing. Errors are
// logged; the caller is already returning a more relevant one.
func (e *Engine) markPartial(account string) {
	if err := e.store.SetDraftStatus(context.Background(), account, store.DraftPartial); err != nil {
		e.logger.Warn("failed to mark draft partial", "account", account, "error", err)
	}
}

type folderGroup struct {
	folder  string
	targets []target
}

// locate re-resolves targets and groups them by current folder, in
// position order.
func (e *Engine) locate(ctx context.Context, account string, targets []store.DraftTarget) ([]folderGroup, []target, error) {
	refs := make([]store.Ref, len(targets))
	positions := make(map[string]int, len(targets))
	for i, t := range targets {
		refs[i] = store.Ref{
			ShadowID:  t.ShadowID,
			MessageID: t.MessageID,
			Folder:    t.Folder,
			UID:       t.UID,
			Subject:   t.Subject,
		}
		positions[refKey(t.ShadowID, t.Folder, t.UID)] = t.Position
	}

	resolved, unresolvedRefs, err := e.resolver.ResolveRefs(ctx, account, refs)
	if err != nil {
		return nil, nil, err
	}

	// Identity-less refs keep their folder and UID, so the key is stable
	// across resolution.
	var current []target
	for _, r := range resolved {
		current = append(current, target{pos: positions[refKey(r.ShadowID, r.Folder, r.UID)], ref: r})
	}
	var unresolved []target
	for _, r := range unresolvedRefs {
		unresolved = append(unresolved, target{pos: positions[refKey(r.ShadowID, r.Folder, r.UID)], ref: r})
	}
	slices.SortFunc(current, func(a, b target) int { return a.pos - b.pos })

	var groups []folderGroup
	index := make(map[string]int)
	for _, t := range current {
		i, ok := index[t.ref.Folder]
		if !ok {
			i = len(groups)
			index[t.ref.Folder] = i
			groups = append(groups, folderGroup{folder: t.ref.Folder})
		}
		groups[i].targets = append(groups[i].targets, t)
	}
	return groups, unresolved, nil
}

func refKey(shadowID int64, folder string, uid uint32) string {
	if shadowID != 0 {
		return "s" + strconv.FormatInt(shadowID, 10)
	}
	return "l" + folder + "\x00" + strconv.FormatUint(uint64(uid), 10)
}

// step is one remote command of an action. A target succeeds when every
// step succeeds for it.
type step struct {
	mutation msgimap.Mutation
	// relocates is set when the step moves the message to mutation.Dest.
	relocates bool
	// removes is set when the step deletes the message for good.
	removes bool
}

// plan turns the draft's action into remote commands for messages
// currently in folder.
func plan(d *store.Draft, folder string) ([]step, error) {
	p := d.Params
	switch d.Action {
	case store.ActionFlag:
		var steps []step
		if add, remove := flagChanges(p.Flags); len(add) > 0 || len(remove) > 0 {
			steps = append(steps, step{mutation: msgimap.Mutation{
				Kind:        msgimap.MutateFlags,
				AddFlags:    add,
				RemoveFlags: remove,
			}})
		}
		if p.Flags != nil && p.Flags.MoveTo != "" && p.Flags.MoveTo != folder {
			steps = append(steps, moveStep(p.Flags.MoveTo))
		}
		return steps, nil
	case store.ActionMove, store.ActionArchive:
		return []step{moveStep(p.DestFolder)}, nil
	case store.ActionCopy:
		return []step{{mutation: msgimap.Mutation{Kind: msgimap.MutateCopy, Dest: p.DestFolder}}}, nil
	case store.ActionDelete:
		if p.Permanent || folder == p.DestFolder {
			// Deleting from the trash removes the message for good.
			return []step{{mutation: msgimap.Mutation{Kind: msgimap.MutateExpunge}, removes: true}}, nil
		}
		return []step{moveStep(p.DestFolder)}, nil
	}
	return nil, fmt.Errorf("unknown action %q", d.Action)
}

func moveStep(dest string) step {
	return step{mutation: msgimap.Mutation{Kind: msgimap.MutateMove, Dest: dest}, relocates: true}
}

// flagChanges converts flag parameters into IMAP flags to add and remove.
// Labels map to keywords.
func flagChanges(p *store.FlagParams) (add, remove []imap.Flag) {
	if p == nil {
		return nil, nil
	}
	toggle := func(v *bool, fl imap.Flag) {
		switch {
		case v == nil:
		case *v:
			add = append(add, fl)
		default:
			remove = append(remove, fl)
		}
	}
	toggle(p.Read, imap.FlagSeen)
	toggle(p.Starred, imap.FlagFlagged)
	for _, l := range p.Labels {
		add = append(add, imap.Flag(l))
	}
	for _, l := range p.Unlabels {
		remove = append(remove, imap.Flag(l))
	}
	return add, remove
}

type result struct {
	pos     int
	ref     store.Ref
	err     error
	dest    string   // set when the message now lives elsewhere
	newUID  imap.UID // UID in dest, 0 when unknown
	gone    bool
	missing bool // the server no longer had it at the recorded location
}

// applyChunk runs every step for chunk. Per-UID failures are recorded on
// the result; a command-level error fails the rest of the chunk and is
// returned.
func (e *Engine) applyChunk(ctx context.Context, folder string, chunk []target, steps []step) ([]result, error) {
	results := make([]result, len(chunk))
	live := make(map[imap.UID]int, len(chunk))
	for i, t := range chunk {
		results[i] = result{pos: t.pos, ref: t.ref}
		live[imap.UID(t.ref.UID)] = i
	}

	for _, s := range steps {
		if len(live) == 0 {
			break
		}
		uids := make([]imap.UID, 0, len(live))
		for _, t := range chunk {
			if _, ok := live[imap.UID(t.ref.UID)]; ok {
				uids = append(uids, imap.UID(t.ref.UID))
			}
		}

		res, err := e.mbox.Mutate(ctx, folder, uids, s.mutation)
		if err != nil {
			err = fmt.Errorf("%s: %w", s.mutation.Kind, err)
			for _, uid := range uids {
				results[live[uid]].err = err
			}
			return results, err
		}

		reported := make(map[imap.UID]bool, len(res))
		for _, r := range res {
			i, ok := live[r.UID]
			if !ok {
				continue
			}
			reported[r.UID] = true
			if r.Err != nil {
				results[i].err = fmt.Errorf("%s: %w", s.mutation.Kind, r.Err)
				results[i].missing = errors.Is(r.Err, msgimap.ErrMessageMissing)
				delete(live, r.UID)
				continue
			}
			if s.relocates {
				results[i].dest = s.mutation.Dest
				results[i].newUID = r.NewUID
			}
			if s.removes {
				results[i].gone = true
			}
		}
		for _, uid := range uids {
			if !reported[uid] {
				results[live[uid]].err = fmt.Errorf("%s: no result for uid %d", s.mutation.Kind, uid)
				delete(live, uid)
			}
		}
	}
	return results, nil
}

// updateIdentities records where successfully moved or deleted messages
// went. Failures only cost a later relocation and are logged.
func (e *Engine) updateIdentities(ctx context.Context, results []result) {
	var gone []int64
	for _, r := range results {
		if r.ref.ShadowID == 0 {
			continue
		}
		if r.missing {
			gone = append(gone, r.ref.ShadowID)
			continue
		}
		if r.err != nil {
			continue
		}
		switch {
		case r.gone:
			gone = append(gone, r.ref.ShadowID)
		case r.dest != "":
			if err := e.store.UpdateLocation(ctx, r.ref.ShadowID, r.dest, uint32(r.newUID)); err != nil {
				e.logger.Warn("failed to update location", "id", r.ref.ShadowID, "error", err)
			}
		}
	}
	if len(gone) > 0 {
		if err := e.store.MarkGone(ctx, gone...); err != nil {
			e.logger.Warn("failed to mark messages gone", "count", len(gone), "error", err)
		}
	}
}
