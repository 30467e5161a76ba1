package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/capa/internal/core/aggregation"
	"github.com/example/capa/internal/core/overdue"
	"github.com/example/capa/internal/core/status"
	"github.com/example/capa/internal/core/transition"
	"github.com/example/capa/internal/ctxutil"
	"github.com/example/capa/internal/ports/primary"
	"github.com/example/capa/internal/ports/secondary"
)

// ActionServiceImpl implements the ActionService interface.
type ActionServiceImpl struct {
	workItems secondary.WorkItemRepository
	subItems  secondary.SubItemRepository
	events    secondary.EventLog
	writer    *stateWriter
	policy    overdue.Policy
	now       func() time.Time
	log       zerolog.Logger
}

// NewActionService creates a new ActionService with injected dependencies.
// Events are recorded by the repositories, delivered to sink and read back
// from events.
func NewActionService(
	workItems secondary.WorkItemRepository,
	subItems secondary.SubItemRepository,
	sink secondary.AuditEmitter,
	events secondary.EventLog,
	policy overdue.Policy,
	log zerolog.Logger,
) *ActionServiceImpl {
	log = log.With().Str("component", "actions").Logger()
	return &ActionServiceImpl{
		workItems: workItems,
		subItems:  subItems,
		events:    events,
		writer: &stateWriter{
			workItems: workItems,
			subItems:  subItems,
			events:    events,
			sink:      sink,
			log:       log,
		},
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log,
	}
}

// CreateAction opens a new corrective action in not_started.
func (s *ActionServiceImpl) CreateAction(ctx context.Context, req primary.CreateActionRequest) (*primary.Action, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, errors.New("title is required")
	}
	if req.DueDate.IsZero() {
		return nil, errors.New("due date is required")
	}

	nextID, err := s.workItems.GetNextID(ctx)
	if err != nil {
		return nil, storageError("generate corrective action ID", err)
	}

	now := s.now()
	due := req.DueDate.UTC()
	record := &secondary.WorkItemRecord{
		ID:                 nextID,
		IncidentRef:        req.IncidentRef,
		Title:              title,
		Description:        req.Description,
		DueDate:            due,
		Status:             string(status.ParentNotStarted),
		Priority:           req.Priority,
		ClassificationTags: normalizeTags(req.ClassificationTags),
		OwnerID:            req.OwnerID,
		Overdue:            s.policy.Evaluate(&due, status.ParentNotStarted, nil, now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.workItems.Create(ctx, record); err != nil {
		return nil, storageError("create corrective action", err)
	}

	s.log.Info().Str("action_id", nextID).Str("actor", ctxutil.ActorFromContext(ctx)).Msg("corrective action created")
	return recordToAction(record, nil), nil
}

// CreateSubAction opens a new sub-action and re-derives its corrective action.
func (s *ActionServiceImpl) CreateSubAction(ctx context.Context, req primary.CreateSubActionRequest) (*primary.StatusChangeResult, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, errors.New("title is required")
	}

	parent, err := s.workItems.GetByID(ctx, req.ActionID)
	if err != nil {
		return nil, storageError("load corrective action", err)
	}
	parentState, err := parentStateOf(parent)
	if err != nil {
		return nil, err
	}

	guard := transition.CanAddSubAction(transition.SubActionParentContext{
		ActionID:     parent.ID,
		ParentStatus: parentState.Status,
	})
	if err := guard.Error(); err != nil {
		return nil, err
	}

	nextID, err := s.subItems.GetNextID(ctx)
	if err != nil {
		return nil, storageError("generate sub-action ID", err)
	}

	now := s.now()
	var due *time.Time
	if req.DueDate != nil {
		d := req.DueDate.UTC()
		due = &d
	}
	child := &secondary.SubItemRecord{
		ID:          nextID,
		ParentID:    parent.ID,
		Title:       title,
		Description: req.Description,
		DueDate:     due,
		Status:      string(status.ChildNotStarted),
		AssigneeID:  req.AssigneeID,
		Overdue:     s.policy.Evaluate(due, status.ChildNotStarted, nil, now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.subItems.Create(ctx, child); err != nil {
		return nil, storageError("create sub-action", err)
	}

	children, err := s.subItems.LoadChildren(ctx, parent.ID)
	if err != nil {
		return nil, storageError("load sub-actions", err)
	}
	childStates, err := childStatesOf(children)
	if err != nil {
		return nil, err
	}

	next := aggregation.DeriveParent(parentState, aggregation.ChildStatuses(childStates), now, s.policy)
	if !next.Equal(parentState) {
		c := change{actor: actorFor(ctx, ""), reason: "sub-action " + nextID + " added", source: secondary.SourceMutation, at: now}
		if _, err := s.writer.writeParent(ctx, parent, parentState, next, c); err != nil {
			return nil, err
		}
	}

	s.log.Info().Str("action_id", parent.ID).Str("sub_action_id", nextID).Msg("sub-action created")

	return &primary.StatusChangeResult{
		SubAction: recordToSubAction(child),
		Action:    recordToAction(parent, children),
	}, nil
}

// GetAction retrieves a corrective action with its sub-actions.
func (s *ActionServiceImpl) GetAction(ctx context.Context, actionID string) (*primary.Action, error) {
	record, err := s.workItems.GetByID(ctx, actionID)
	if err != nil {
		return nil, storageError("load corrective action", err)
	}

	children, err := s.subItems.LoadChildren(ctx, actionID)
	if err != nil {
		return nil, storageError("load sub-actions", err)
	}

	return recordToAction(record, children), nil
}

// GetSubAction retrieves a single sub-action.
func (s *ActionServiceImpl) GetSubAction(ctx context.Context, subActionID string) (*primary.SubAction, error) {
	record, err := s.subItems.GetByID(ctx, subActionID)
	if err != nil {
		return nil, storageError("load sub-action", err)
	}

	return recordToSubAction(record), nil
}

// ListActions lists corrective actions with optional filters.
func (s *ActionServiceImpl) ListActions(ctx context.Context, filters primary.ActionFilters) ([]*primary.Action, error) {
	if filters.Status != "" {
		parsed, err := status.ParseParent(filters.Status)
		if err != nil {
			return nil, err
		}
		filters.Status = string(parsed)
	}

	records, err := s.workItems.List(ctx, secondary.WorkItemFilters{
		Status:      filters.Status,
		Overdue:     filters.Overdue,
		OwnerID:     filters.OwnerID,
		IncidentRef: filters.IncidentRef,
		Limit:       filters.Limit,
	})
	if err != nil {
		return nil, storageError("list corrective actions", err)
	}

	actions := make([]*primary.Action, len(records))
	for i, r := range records {
		actions[i] = recordToAction(r, nil)
	}
	return actions, nil
}

// ApplySubActionStatusChange validates and persists a sub-action status
// change, then re-derives and persists its corrective action. One event is
// emitted for the sub-action and one for the corrective action if it changed.
func (s *ActionServiceImpl) ApplySubActionStatusChange(ctx context.Context, req primary.StatusChangeRequest) (*primary.StatusChangeResult, error) {
	p, err := s.planSubActionChange(ctx, req)
	if err != nil {
		return nil, err
	}

	c := change{
		actor:  actorFor(ctx, req.Actor),
		reason: req.Reason,
		source: secondary.SourceMutation,
		at:     p.now,
	}

	if _, err := s.writer.writeChild(ctx, p.child, p.childFrom, p.childTo, c); err != nil {
		return nil, err
	}

	if !p.parentTo.Equal(p.parentFrom) {
		if _, err := s.writer.writeParent(ctx, p.parent, p.parentFrom, p.parentTo, c); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("sub_action_id", p.child.ID).
		Str("action_id", p.parent.ID).
		Str("status", p.child.Status).
		Str("action_status", p.parent.Status).
		Str("actor", c.actor).
		Msg("sub-action status changed")

	return p.result(), nil
}

// PreviewSubActionStatusChange runs the same validation and derivation as
// ApplySubActionStatusChange without writing or emitting anything.
func (s *ActionServiceImpl) PreviewSubActionStatusChange(ctx context.Context, req primary.StatusChangeRequest) (*primary.StatusChangeResult, error) {
	p, err := s.planSubActionChange(ctx, req)
	if err != nil {
		return nil, err
	}

	p.child.Status = string(p.childTo.Status)
	p.child.Overdue = p.childTo.Overdue
	p.child.CompletedAt = p.childTo.CompletedAt
	p.parent.Status = string(p.parentTo.Status)
	p.parent.Overdue = p.parentTo.Overdue
	p.parent.CompletedAt = p.parentTo.CompletedAt

	return p.result(), nil
}

// ApplyActionStatusChange writes a corrective action status directly.
// Aborting needs a reason and leaves sub-actions untouched. Any other
// direct write is only accepted for actions without sub-actions.
func (s *ActionServiceImpl) ApplyActionStatusChange(ctx context.Context, req primary.StatusChangeRequest) (*primary.Action, error) {
	requested, err := status.ParseParent(req.Status)
	if err != nil {
		return nil, err
	}

	record, err := s.workItems.GetByID(ctx, req.ItemID)
	if err != nil {
		return nil, storageError("load corrective action", err)
	}
	from, err := parentStateOf(record)
	if err != nil {
		return nil, err
	}

	children, err := s.subItems.LoadChildren(ctx, record.ID)
	if err != nil {
		return nil, storageError("load sub-actions", err)
	}

	guard := transition.CanTransitionParent(transition.ParentTransitionContext{
		ActionID:    record.ID,
		Current:     from.Status,
		Requested:   requested,
		HasChildren: len(children) > 0,
	})
	if err := guard.Error(); err != nil {
		return nil, err
	}

	now := s.now()
	actor := actorFor(ctx, req.Actor)
	c := change{actor: actor, reason: req.Reason, source: secondary.SourceMutation, at: now}

	if requested == status.ParentAborted {
		if err := transition.CanAbort(transition.AbortContext{ActionID: record.ID, Reason: req.Reason}).Error(); err != nil {
			return nil, err
		}
		return s.abort(ctx, record, from, children, c)
	}

	to := from
	to.Status = requested
	to = aggregation.DeriveParent(to, nil, now, s.policy)

	if _, err := s.writer.writeParent(ctx, record, from, to, c); err != nil {
		return nil, err
	}

	s.log.Info().Str("action_id", record.ID).Str("status", record.Status).Str("actor", actor).Msg("corrective action status changed")
	return recordToAction(record, children), nil
}

// ListEvents returns the audit history of a corrective action or sub-action.
func (s *ActionServiceImpl) ListEvents(ctx context.Context, itemID string) ([]*primary.Event, error) {
	if s.events == nil {
		return nil, nil
	}

	records, err := s.events.ListByItem(ctx, itemID)
	if err != nil {
		return nil, storageError("list transition events", err)
	}

	events := make([]*primary.Event, len(records))
	for i, e := range records {
		events[i] = &primary.Event{
			ID:         e.ID,
			ItemID:     e.ItemID,
			ItemKind:   e.ItemKind,
			OldStatus:  e.OldStatus,
			NewStatus:  e.NewStatus,
			OldOverdue: e.OldOverdue,
			NewOverdue: e.NewOverdue,
			Actor:      e.Actor,
			Reason:     e.Reason,
			Source:     e.Source,
			OccurredAt: e.OccurredAt,
		}
	}
	return events, nil
}

func (s *ActionServiceImpl) abort(ctx context.Context, record *secondary.WorkItemRecord, from aggregation.ParentState, children []*secondary.SubItemRecord, c change) (*primary.Action, error) {
	if err := s.writer.writeAbort(ctx, record, from, c); err != nil {
		return nil, err
	}

	s.log.Info().Str("action_id", record.ID).Str("actor", c.actor).Str("reason", c.reason).Msg("corrective action aborted")
	return recordToAction(record, children), nil
}

// subActionPlan is a validated, derived sub-action change that has not been
// written yet.
type subActionPlan struct {
	now        time.Time
	child      *secondary.SubItemRecord
	childFrom  aggregation.ChildState
	childTo    aggregation.ChildState
	parent     *secondary.WorkItemRecord
	parentFrom aggregation.ParentState
	parentTo   aggregation.ParentState
	siblings   []*secondary.SubItemRecord
}

func (s *ActionServiceImpl) planSubActionChange(ctx context.Context, req primary.StatusChangeRequest) (*subActionPlan, error) {
	requested, err := status.ParseChild(req.Status)
	if err != nil {
		return nil, err
	}

	child, err := s.subItems.GetByID(ctx, req.ItemID)
	if err != nil {
		return nil, storageError("load sub-action", err)
	}
	childFrom, err := childStateOf(child)
	if err != nil {
		return nil, err
	}

	parent, err := s.workItems.GetByID(ctx, child.ParentID)
	if err != nil {
		return nil, storageError("load corrective action", err)
	}
	parentFrom, err := parentStateOf(parent)
	if err != nil {
		return nil, err
	}

	guard := transition.CanTransitionChild(transition.ChildTransitionContext{
		SubActionID: child.ID,
		Current:     childFrom.Status,
		Requested:   requested,
	})
	if err := guard.Error(); err != nil {
		return nil, err
	}

	now := s.now()
	childTo := childFrom
	childTo.Status = requested
	childTo.CompletedAt = nil
	if requested == status.ChildCompleted {
		completedAt := now
		childTo.CompletedAt = &completedAt
	}
	childTo = aggregation.DeriveChild(childTo, now, s.policy)

	siblings, err := s.subItems.LoadChildren(ctx, parent.ID)
	if err != nil {
		return nil, storageError("load sub-actions", err)
	}
	states, err := childStatesOf(siblings)
	if err != nil {
		return nil, err
	}
	for i, sib := range siblings {
		if sib.ID == child.ID {
			states[i] = childTo
			siblings[i] = child
		}
	}

	return &subActionPlan{
		now:        now,
		child:      child,
		childFrom:  childFrom,
		childTo:    childTo,
		parent:     parent,
		parentFrom: parentFrom,
		parentTo:   aggregation.DeriveParent(parentFrom, aggregation.ChildStatuses(states), now, s.policy),
		siblings:   siblings,
	}, nil
}

func (p *subActionPlan) result() *primary.StatusChangeResult {
	return &primary.StatusChangeResult{
		SubAction: recordToSubAction(p.child),
		Action:    recordToAction(p.parent, p.siblings),
	}
}

// actorFor prefers an explicit actor over the one carried in the context.
func actorFor(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return ctxutil.ActorFromContext(ctx)
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := []string{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Helper functions

func recordToAction(r *secondary.WorkItemRecord, children []*secondary.SubItemRecord) *primary.Action {
	current := status.ParentStatus(r.Status)
	action := &primary.Action{
		ID:                 r.ID,
		IncidentRef:        r.IncidentRef,
		Title:              r.Title,
		Description:        r.Description,
		DueDate:            r.DueDate,
		Status:             r.Status,
		Priority:           r.Priority,
		ClassificationTags: r.ClassificationTags,
		OwnerID:            r.OwnerID,
		Overdue:            r.Overdue,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		CompletedAt:        r.CompletedAt,
		AbortedBy:          r.AbortedBy,
		AbortedAt:          r.AbortedAt,
		AbortReason:        r.AbortReason,
		AllowedNext:        parentTargetNames(current, len(children) > 0),
	}

	if children != nil {
		statuses := make([]status.ChildStatus, len(children))
		action.SubActions = make([]*primary.SubAction, len(children))
		for i, c := range children {
			statuses[i] = status.ChildStatus(c.Status)
			action.SubActions[i] = recordToSubAction(c)
		}
		counts := aggregation.Count(statuses)
		action.Counts = &primary.SubActionCounts{
			NotStarted: counts.NotStarted,
			InProgress: counts.InProgress,
			Completed:  counts.Completed,
			Cancelled:  counts.Cancelled,
		}
	}

	return action
}

func recordToSubAction(r *secondary.SubItemRecord) *primary.SubAction {
	sub := &primary.SubAction{
		ID:          r.ID,
		ActionID:    r.ParentID,
		Title:       r.Title,
		Description: r.Description,
		DueDate:     r.DueDate,
		Status:      r.Status,
		AssigneeID:  r.AssigneeID,
		Overdue:     r.Overdue,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
		AllowedNext: []string{},
	}
	for _, to := range transition.AllowedChildTargets(status.ChildStatus(r.Status)) {
		sub.AllowedNext = append(sub.AllowedNext, string(to))
	}
	return sub
}

func parentTargetNames(current status.ParentStatus, hasChildren bool) []string {
	names := []string{}
	for _, to := range transition.AllowedParentTargets(current, hasChildren) {
		names = append(names, string(to))
	}
	return names
}
