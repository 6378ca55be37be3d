package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/assembler"
	"github.com/BTreeMap/IntakePipe/internal/classifier"
	"github.com/BTreeMap/IntakePipe/internal/extract"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/safety"
	"github.com/BTreeMap/IntakePipe/internal/script"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// CompletionThreshold is the minimum completeness needed to finalize a session.
const CompletionThreshold = 0.7

// Canned texts used outside the script.
const (
	CrisisMessage = "It sounds like you are going through something really painful, and you deserve support right now. " +
		"Please reach out to one of these resources. We'll pause here so you can take care of yourself."
	HoldMessage = "I'm having trouble checking in on that right now. Let's pause for a moment; please send your reply again shortly."
)

// metaCrisisLevel records the level of the crisis that set the session's flag.
const metaCrisisLevel = "crisis_level"

// Orchestrator owns the session lifecycle and runs one user turn at a time per
// session.
type Orchestrator struct {
	script     *script.Repository
	extractor  *extract.Extractor
	controller *Controller
	validator  safety.Validator
	assembler  assembler.Assembler
	sessions   *SessionManager
	turns      *keyedMutex
	now        func() time.Time
	newID      func() string
}

// NewOrchestrator wires the pipeline. A nil validator falls back to the local
// keyword validator and a nil assembler to the default profile assembler.
func NewOrchestrator(repo *script.Repository, st store.Store, validator safety.Validator, asm assembler.Assembler, opts ...Option) *Orchestrator {
	o := applyOptions(opts)
	if validator == nil {
		validator = safety.NewKeywordValidator()
	}
	if asm == nil {
		asm = assembler.NewProfileAssembler()
	}
	validator = safety.WithTimeout(validator, o.SafetyTimeout)
	slog.Debug("Orchestrator.NewOrchestrator: creating orchestrator", "sessionTimeout", o.SessionTimeout, "safetyTimeout", o.SafetyTimeout)
	return &Orchestrator{
		script:     repo,
		extractor:  extract.New(repo),
		controller: NewController(repo, validator, opts...),
		validator:  validator,
		assembler:  asm,
		sessions:   NewSessionManager(st, o.SessionTimeout, o.Now),
		turns:      newKeyedMutex(),
		now:        o.Now,
		newID:      o.NewID,
	}
}

// Controller exposes the flow controller used for progression decisions.
func (o *Orchestrator) Controller() *Controller {
	return o.controller
}

// Start creates a session at the initial stage and returns its first prompt.
func (o *Orchestrator) Start(ctx context.Context, userID string, metadata map[string]string) (string, models.AssistantMessage, error) {
	req := models.StartSessionRequest{UserID: userID, Metadata: metadata}
	if err := req.Validate(); err != nil {
		return "", models.AssistantMessage{}, err
	}

	now := o.now()
	def := o.script.InitialStage()
	session := &models.ConversationSession{
		ID:             o.newID(),
		UserID:         userID,
		Status:         models.StatusActive,
		CurrentStage:   def.ID,
		StageEnteredAt: now,
		Profile:        models.NewCollectedProfile(),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if len(metadata) > 0 {
		session.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			session.Metadata[k] = v
		}
	}

	first := promptFor(def)
	o.record(session, first.Stage, first.Content, nil)
	if err := o.sessions.Create(ctx, session); err != nil {
		return "", models.AssistantMessage{}, err
	}
	slog.Info("Orchestrator.Start: session started", "sessionID", session.ID, "userID", userID, "stage", def.ID)
	return session.ID, first, nil
}

// ProcessResponse runs one user turn and returns the messages to send back.
func (o *Orchestrator) ProcessResponse(ctx context.Context, sessionID, text string) ([]models.OutboundMessage, error) {
	req := models.UserResponseRequest{Text: text}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := o.turns.Lock(sessionID)
	defer unlock()

	session, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusActive {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, session.Status, models.ErrInactiveSession)
	}
	def, ok := o.script.Stage(session.CurrentStage)
	if !ok {
		return nil, fmt.Errorf("session %s is at unknown stage %q", sessionID, session.CurrentStage)
	}

	now := o.now()
	session.History = append(session.History, models.Message{
		ID:        o.newID(),
		Timestamp: now,
		Sender:    models.SenderUser,
		Content:   text,
		Stage:     session.CurrentStage,
	})
	session.LastActivityAt = now

	msgs := o.runTurn(ctx, session, def, text)
	if err := o.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, session *models.ConversationSession, def models.StageDefinition, text string) []models.OutboundMessage {
	sc := safety.Context{SessionID: session.ID, UserID: session.UserID, ContentType: safety.ContentUserMessage}
	verdict, err := o.validator.Validate(ctx, text, sc)
	if err != nil {
		if classifier.IsCrisis(text, def.CrisisKeywords...) {
			slog.Warn("Orchestrator.runTurn: safety validator failed on a crisis reply", "sessionID", session.ID, "error", err)
			return o.crisis(session, models.CrisisHigh)
		}
		slog.Warn("Orchestrator.runTurn: safety validator failed, holding turn", "sessionID", session.ID, "error", err)
		hold := models.AssistantMessage{Stage: def.ID, PromptID: string(def.ID) + ".hold", Content: HoldMessage}
		o.record(session, hold.Stage, hold.Content, nil)
		return []models.OutboundMessage{hold}
	}
	if verdict.IsBlocking() {
		return o.crisis(session, verdict.CrisisLevel)
	}
	if classifier.IsCrisis(text, def.CrisisKeywords...) {
		return o.crisis(session, models.CrisisHigh)
	}

	var out []models.OutboundMessage

	delta := extract.Novel(session.Profile, o.extractor.Extract(session))
	fieldErrs := extract.DropInvalid(&delta)
	for _, fe := range fieldErrs {
		if !containsField(def.TargetFields, fe.Field) {
			continue
		}
		out = append(out, models.ValidationErrorMessage{Field: fe.Field, Message: fe.Message})
	}
	if len(delta.Fields) > 0 {
		extract.Merge(&session.Profile, delta)
		slog.Debug("Orchestrator.runTurn: merged profile delta", "sessionID", session.ID, "fields", len(delta.Fields), "completeness", extract.Completeness(session.Profile))
	}

	rt := classifier.Classify(text, def.CrisisKeywords...)
	target := o.controller.DefaultNextStage(session)
	var reply string
	if b, ok := o.script.Branch(def.ID, rt); ok {
		if b.Stays() {
			msg := models.AssistantMessage{Stage: def.ID, PromptID: branchPromptID(def.ID, rt), Content: b.Reply}
			o.record(session, msg.Stage, msg.Content, nil)
			return append(out, msg)
		}
		target, reply = b.Next, b.Reply
	}

	allowed, reason := false, "final stage reached"
	if target != "" {
		allowed, reason = o.controller.CanAdvance(ctx, session, target)
	}
	if allowed {
		pacing := DeterminePacing(session, o.now())
		need := RequiredExchanges(def, pacing)
		if have := len(session.UserMessagesAt(def.ID)); have < need {
			allowed, reason = false, fmt.Sprintf("%d of %d exchanges at %s pacing", have, need, pacing)
		}
	}
	if !allowed {
		slog.Debug("Orchestrator.runTurn: staying on stage", "sessionID", session.ID, "stage", def.ID, "responseType", rt, "reason", reason)
		msg := models.AssistantMessage{Stage: def.ID, PromptID: string(def.ID) + ".context", Content: def.Context, FollowUps: def.FollowUps}
		o.record(session, msg.Stage, msg.Content, nil)
		return append(out, msg)
	}

	if reply != "" {
		msg := models.AssistantMessage{Stage: def.ID, PromptID: branchPromptID(def.ID, rt), Content: reply}
		o.record(session, msg.Stage, msg.Content, nil)
		out = append(out, msg)
	}
	next, _ := o.script.Stage(target)
	session.CurrentStage = next.ID
	session.StageEnteredAt = o.now()
	prompt := promptFor(next)
	o.record(session, prompt.Stage, prompt.Content, nil)
	out = append(out, prompt, models.ProgressUpdate{Percent: o.script.ProgressPercent(next.ID)})
	slog.Info("Orchestrator.runTurn: stage advanced", "sessionID", session.ID, "from", def.ID, "to", next.ID, "responseType", rt)
	return out
}

// crisis sets the sticky crisis flag and returns the single crisis alert.
func (o *Orchestrator) crisis(session *models.ConversationSession, level models.CrisisLevel) []models.OutboundMessage {
	session.CrisisFlag = true
	if session.Metadata == nil {
		session.Metadata = make(map[string]string)
	}
	if prev := models.CrisisLevel(session.Metadata[metaCrisisLevel]); safety.Severity(level) > safety.Severity(prev) {
		session.Metadata[metaCrisisLevel] = string(level)
	}
	alert := models.CrisisAlert{Level: level, Content: CrisisMessage, Resources: o.script.CrisisResources()}
	o.record(session, session.CurrentStage, alert.Content, map[string]string{"kind": string(models.KindCrisisAlert), "level": string(level)})
	slog.Warn("Orchestrator.crisis: crisis detected, turn pre-empted", "sessionID", session.ID, "stage", session.CurrentStage, "level", level)
	return []models.OutboundMessage{alert}
}

// Pause moves an active session to PAUSED. Pausing a paused session is a no-op.
func (o *Orchestrator) Pause(ctx context.Context, sessionID string) error {
	unlock := o.turns.Lock(sessionID)
	defer unlock()

	session, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	switch session.Status {
	case models.StatusPaused:
		return nil
	case models.StatusActive:
	default:
		return fmt.Errorf("session %s is %s: %w", sessionID, session.Status, models.ErrInactiveSession)
	}
	session.Status = models.StatusPaused
	session.LastActivityAt = o.now()
	if err := o.sessions.Save(ctx, session); err != nil {
		return err
	}
	slog.Info("Orchestrator.Pause: session paused", "sessionID", sessionID, "stage", session.CurrentStage)
	return nil
}

// Resume reactivates a paused session and re-emits the current stage prompt.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (models.AssistantMessage, error) {
	unlock := o.turns.Lock(sessionID)
	defer unlock()

	session, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		return models.AssistantMessage{}, err
	}
	if session.Status.IsTerminal() {
		return models.AssistantMessage{}, fmt.Errorf("session %s is %s: %w", sessionID, session.Status, models.ErrInactiveSession)
	}
	def, ok := o.script.Stage(session.CurrentStage)
	if !ok {
		return models.AssistantMessage{}, fmt.Errorf("session %s is at unknown stage %q", sessionID, session.CurrentStage)
	}
	session.Status = models.StatusActive
	session.LastActivityAt = o.now()
	prompt := promptFor(def)
	o.record(session, prompt.Stage, prompt.Content, nil)
	if err := o.sessions.Save(ctx, session); err != nil {
		return models.AssistantMessage{}, err
	}
	slog.Info("Orchestrator.Resume: session resumed", "sessionID", sessionID, "stage", def.ID)
	return prompt, nil
}

// Abandon terminates the session. It takes only the commit lock, so it does
// not wait for a turn in progress; that turn's write is discarded.
func (o *Orchestrator) Abandon(ctx context.Context, sessionID string) error {
	_, err := o.sessions.Update(ctx, sessionID, func(s *models.ConversationSession) error {
		if s.Status.IsTerminal() {
			return fmt.Errorf("session %s is %s: %w", sessionID, s.Status, models.ErrInactiveSession)
		}
		s.Status = models.StatusAbandoned
		s.LastActivityAt = o.now()
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("Orchestrator.Abandon: session abandoned", "sessionID", sessionID)
	return nil
}

// Complete finalizes the session when its profile is complete enough and
// valid. It returns nil, nil when the profile is not ready yet.
func (o *Orchestrator) Complete(ctx context.Context, sessionID string) (*models.CompletionSummary, error) {
	unlock := o.turns.Lock(sessionID)
	defer unlock()

	session, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, session.Status, models.ErrInactiveSession)
	}
	if session.CrisisFlag {
		level := models.CrisisLevel(session.Metadata[metaCrisisLevel])
		if level == "" {
			level = models.CrisisHigh
		}
		return nil, &models.SafetyBlockedError{SessionID: sessionID, Level: level}
	}

	completeness := extract.Completeness(session.Profile)
	if completeness < CompletionThreshold {
		slog.Info("Orchestrator.Complete: profile not complete enough", "sessionID", sessionID, "completeness", completeness)
		return nil, nil
	}
	if ok, errs := extract.Validate(session.Profile); !ok {
		slog.Info("Orchestrator.Complete: profile has validation errors", "sessionID", sessionID, "errors", len(errs))
		return nil, nil
	}

	character, err := o.assembler.Assemble(ctx, session.Profile.Clone())
	if err != nil {
		slog.Error("Orchestrator.Complete: assembler failed", "sessionID", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %w", models.ErrAssemblerFailure, err)
	}

	now := o.now()
	session.Status = models.StatusCompleted
	session.LastActivityAt = now
	if err := o.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	slog.Info("Orchestrator.Complete: session completed", "sessionID", sessionID, "completeness", completeness, "archetype", character.Archetype)
	return &models.CompletionSummary{
		SessionID:    session.ID,
		UserID:       session.UserID,
		Completeness: completeness,
		Profile:      session.Profile.Clone(),
		Character:    character,
		CompletedAt:  now,
	}, nil
}

// GetConversationState returns a read-only snapshot of the session.
func (o *Orchestrator) GetConversationState(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	session, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := o.now()
	return &models.ConversationState{
		SessionID:      session.ID,
		UserID:         session.UserID,
		Status:         session.Status,
		CurrentStage:   session.CurrentStage,
		CrisisFlag:     session.CrisisFlag,
		Completeness:   extract.Completeness(session.Profile),
		Engagement:     EngagementScore(session, now),
		Pacing:         DeterminePacing(session, now),
		MessageCount:   len(session.History),
		Profile:        session.Profile.Clone(),
		LastActivityAt: session.LastActivityAt,
	}, nil
}

func (o *Orchestrator) record(session *models.ConversationSession, stage models.StageID, content string, meta map[string]string) {
	session.History = append(session.History, models.Message{
		ID:        o.newID(),
		Timestamp: o.now(),
		Sender:    models.SenderAssistant,
		Content:   content,
		Stage:     stage,
		Metadata:  meta,
	})
}

func promptFor(def models.StageDefinition) models.AssistantMessage {
	return models.AssistantMessage{Stage: def.ID, PromptID: def.PromptID(), Content: def.Prompt, FollowUps: def.FollowUps}
}

func branchPromptID(stage models.StageID, rt models.ResponseType) string {
	return fmt.Sprintf("%s.branch.%s", stage, rt)
}

func containsField(fields []models.ProfileField, f models.ProfileField) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}
