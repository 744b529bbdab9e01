package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PitchPipe/internal/metrics"
	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/BTreeMap/PitchPipe/internal/store"
)

// User-facing messages.
const (
	WelcomeMessage         = "Welcome to Jeff Jr, your AI VC coach! 😎\nWhat's your project name? Be clear!"
	NamePromptFormat       = "%s, huh? Alright:\n- What stage is it at?"
	RevenuePromptFormat    = "A %s-stage %s? Noted.\n\nWhat's your revenue goal? Be specific or I'll assume you're not serious!"
	SummaryTurnFormat      = "My project is %s (Stage: %s) with revenue goal: %s"
	CommitFailedMessage    = "There was an error saving your project. Please try again with /start."
	NoProjectMessage       = "I can't find your project data. Please start over with /start."
	CancelMessage          = "Operation cancelled. Use /start to begin again or /help for assistance."
	GenericErrorMessage    = "Something went wrong. Please try again or use /start."
	NoReviewProjectMessage = "You don't have a project yet. Start with /start to create one!"
	ReviewFormat           = "Here's your project:\n- Name: %s\n- Stage: %s\n- Revenue Goal: %s\n\nNeed to refine it? Type /start or ask away!"
	EmptyNameMessage       = "I need a name to work with. What's your project called?"
	NameTooLongMessage     = "That's not a name, that's an essay. Keep it short and try again."
	StageNudgeMessage      = "Pick one of the stages below so we can move on."
	EmptyRevenueMessage    = "A blank revenue goal tells me you're not serious. What's the number?"
	RevenueTooLongMessage  = "Too long. Give me the revenue goal in a sentence or two."
	EmptyFeedbackMessage   = "Say something about your startup and I'll tell you what I think."
	FeedbackTooLongMessage = "That's a lot of words. Cut it down to the point and send it again."
	StaleSelectionMessage  = "That selection has expired. Use /start to begin again."
	UnknownCommandMessage  = "I don't know that command. Use /help to see what I can do."
	HelpMessage            = "I'm Jeff Jr, your AI VC coach! Here's how to use me:\n\n" +
		"/start - Begin creating or updating your project\n" +
		"/review - View your current project details\n" +
		"/cancel - Abort the project setup in progress\n" +
		"/help - Show this help message\n\n" +
		"After starting, just chat with me about your startup, and I'll give you " +
		"honest, blunt feedback to help you refine your concept and business model. " +
		"I'll remember your project details for our future conversations. 💰"
)

// Reply is the controller's answer to one inbound event.
type Reply struct {
	Text    string
	Choices []models.Choice // when set, Text is sent as a single-choice prompt
	// EditRef names a previously sent message whose text is replaced by Text. Transports
	// that cannot edit send a new message instead.
	EditRef string
	// AckCallbackID acknowledges a choice selection before the reply is delivered.
	AckCallbackID string
}

// Controller drives the NAME -> STAGE -> REVENUE -> FEEDBACK intake dialogue.
type Controller struct {
	store        store.Store
	sessions     *SessionStore
	history      *HistoryAssembler
	generator    TextGenerator
	metrics      *metrics.Collector
	historyLimit int
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithHistoryLimit sets how many turns are replayed to the model.
func WithHistoryLimit(n int) ControllerOption {
	return func(c *Controller) {
		c.historyLimit = n
	}
}

// WithControllerMetrics records committed projects on m.
func WithControllerMetrics(m *metrics.Collector) ControllerOption {
	return func(c *Controller) {
		c.metrics = m
	}
}

// NewController wires the dialogue to its store, session store and generator.
func NewController(st store.Store, sessions *SessionStore, gen TextGenerator, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:        st,
		sessions:     sessions,
		generator:    gen,
		historyLimit: store.DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.history = NewHistoryAssembler(st, c.historyLimit)
	return c
}

// Handle routes ev to the matching operation.
func (c *Controller) Handle(ctx context.Context, ev models.InboundEvent) (Reply, error) {
	switch ev.Kind {
	case models.EventCommand:
		switch ev.Command {
		case models.CommandStart:
			return c.Start(ctx, ev)
		case models.CommandCancel:
			return c.Cancel(ctx, ev)
		case models.CommandReview:
			return c.Review(ctx, ev)
		case models.CommandHelp:
			return c.Help(ctx, ev)
		default:
			return Reply{Text: UnknownCommandMessage}, nil
		}
	case models.EventChoice:
		return c.HandleChoice(ctx, ev)
	case models.EventText:
		return c.HandleText(ctx, ev)
	default:
		return Reply{}, fmt.Errorf("unsupported event kind %q", ev.Kind)
	}
}

// Start opens a fresh intake, replacing any session the user had.
func (c *Controller) Start(ctx context.Context, ev models.InboundEvent) (Reply, error) {
	c.sessions.Put(Session{
		UserID: ev.UserID,
		ChatID: ev.ChatID,
		Handle: ev.Handle,
		State:  models.StateName,
	})
	slog.Info("Controller Start: intake opened", "user_id", ev.UserID, "handle", ev.Handle)
	return Reply{Text: WelcomeMessage}, nil
}

// HandleText processes free text according to the user's dialogue state.
func (c *Controller) HandleText(ctx context.Context, ev models.InboundEvent) (Reply, error) {
	sess, err := c.sessions.Get(ev.UserID)
	if errors.Is(err, ErrSessionNotFound) {
		return c.resume(ctx, ev)
	}
	if err != nil {
		return Reply{}, err
	}

	switch sess.State {
	case models.StateName:
		return c.handleName(sess, ev)
	case models.StateStage:
		c.sessions.Put(sess)
		return Reply{Text: StageNudgeMessage, Choices: models.StageChoices()}, nil
	case models.StateRevenue:
		return c.handleRevenue(ctx, sess, ev)
	case models.StateFeedback:
		return c.handleFeedback(ctx, sess, ev)
	default:
		return Reply{}, fmt.Errorf("session for %s in unknown state %q", ev.UserID, sess.State)
	}
}

// HandleChoice processes a stage selection.
func (c *Controller) HandleChoice(ctx context.Context, ev models.InboundEvent) (Reply, error) {
	reply := Reply{AckCallbackID: ev.CallbackID}

	sess, err := c.sessions.Get(ev.UserID)
	if err != nil || sess.State != models.StateStage {
		slog.Debug("Controller HandleChoice: no session awaiting a stage", "user_id", ev.UserID)
		reply.Text = StaleSelectionMessage
		return reply, nil
	}

	stage := models.ProjectStage(ev.ChoiceData)
	if !models.IsValidProjectStage(stage) {
		slog.Warn("Controller HandleChoice: selection outside the stage list", "user_id", ev.UserID, "data", ev.ChoiceData)
		c.sessions.Put(sess)
		reply.Text = StageNudgeMessage
		reply.Choices = models.StageChoices()
		return reply, nil
	}

	sess.PendingStage = stage
	sess.State = models.StateRevenue
	c.sessions.Put(sess)
	slog.Debug("Controller HandleChoice: stage selected", "user_id", ev.UserID, "stage", stage)

	reply.Text = fmt.Sprintf(RevenuePromptFormat, strings.ToLower(string(stage)), sess.PendingName)
	reply.EditRef = ev.MessageRef
	return reply, nil
}

// Cancel discards the in-memory session. Stored rows are untouched.
func (c *Controller) Cancel(ctx context.Context, ev models.InboundEvent) (Reply, error) {
	existed := c.sessions.Delete(ev.UserID)
	slog.Info("Controller Cancel", "user_id", ev.UserID, "had_session", existed)
	return Reply{Text: CancelMessage}, nil
}

// Review shows the user's latest stored project.
func (c *Controller) Review(ctx context.Context, ev models.InboundEvent) (Reply, error) {
	project := c.latestProject(ctx, ev.UserID)
	if project == nil {
		return Reply{Text: NoReviewProjectMessage}, nil
	}
	return Reply{Text: fmt.Sprintf(ReviewFormat, project.Name, project.Stage, project.RevenueGoal)}, nil
}

// Help returns the static usage text.
func (c *Controller) Help(ctx context.Context, ev models.InboundEvent) (Reply, error) {
	return Reply{Text: HelpMessage}, nil
}

func (c *Controller) handleName(sess Session, ev models.InboundEvent) (Reply, error) {
	name := strings.TrimSpace(ev.Text)
	switch {
	case name == "":
		c.sessions.Put(sess)
		return Reply{Text: EmptyNameMessage}, nil
	case len(name) > models.MaxProjectNameLength:
		c.sessions.Put(sess)
		return Reply{Text: NameTooLongMessage}, nil
	}

	sess.PendingName = name
	sess.State = models.StateStage
	c.sessions.Put(sess)
	slog.Debug("Controller: project name captured", "user_id", ev.UserID, "name", name)
	return Reply{Text: fmt.Sprintf(NamePromptFormat, name), Choices: models.StageChoices()}, nil
}

func (c *Controller) handleRevenue(ctx context.Context, sess Session, ev models.InboundEvent) (Reply, error) {
	goal := strings.TrimSpace(ev.Text)
	switch {
	case goal == "":
		c.sessions.Put(sess)
		return Reply{Text: EmptyRevenueMessage}, nil
	case len(goal) > models.MaxRevenueGoalLength:
		c.sessions.Put(sess)
		return Reply{Text: RevenueTooLongMessage}, nil
	}
	sess.PendingRevenue = goal

	handle := sess.Handle
	if handle == "" {
		handle = ev.Handle
	}
	project, err := c.store.InsertProject(ctx, models.NewProject{
		UserID:      sess.UserID,
		Handle:      handle,
		Name:        sess.PendingName,
		Stage:       sess.PendingStage,
		RevenueGoal: goal,
	})
	if err != nil {
		// Stay in REVENUE: new revenue text retries the commit.
		slog.Error("Controller: project commit failed", "user_id", sess.UserID, "error", err)
		c.sessions.Put(sess)
		return Reply{Text: CommitFailedMessage}, nil
	}
	c.metrics.ProjectCommitted()
	slog.Info("Controller: project committed", "user_id", sess.UserID, "project_id", project.ID, "stage", project.Stage)

	c.sessions.Put(Session{
		UserID:    sess.UserID,
		ChatID:    sess.ChatID,
		Handle:    sess.Handle,
		State:     models.StateFeedback,
		StartedAt: sess.StartedAt,
	})

	c.appendTurn(ctx, project, fmt.Sprintf(SummaryTurnFormat, project.Name, project.Stage, project.RevenueGoal), models.RoleUser)
	answer := c.generator.Generate(ctx, BuildPrompt(&project, nil, AssessmentRequest(project)))
	c.appendTurn(ctx, project, answer, models.RoleAssistant)
	return Reply{Text: answer}, nil
}

func (c *Controller) handleFeedback(ctx context.Context, sess Session, ev models.InboundEvent) (Reply, error) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		c.sessions.Put(sess)
		return Reply{Text: EmptyFeedbackMessage}, nil
	}
	if len(text) > models.MaxTurnMessageLength {
		// Nothing is stored or sent to the model for a message the store would reject.
		c.sessions.Put(sess)
		return Reply{Text: FeedbackTooLongMessage}, nil
	}

	project := c.latestProject(ctx, ev.UserID)
	if project == nil {
		slog.Warn("Controller: feedback without a project, ending session", "user_id", ev.UserID, "error", ErrSessionNotFound)
		c.sessions.Delete(ev.UserID)
		return Reply{Text: NoProjectMessage}, nil
	}
	c.sessions.Put(sess)

	// History is read before the new turn is written so it is not replayed twice.
	history := c.history.Assemble(ctx, ev.UserID, c.historyLimit)
	c.appendTurn(ctx, *project, text, models.RoleUser)
	answer := c.generator.Generate(ctx, BuildPrompt(project, history, text))
	c.appendTurn(ctx, *project, answer, models.RoleAssistant)
	return Reply{Text: answer}, nil
}

// resume handles text from a user without a session. A stored project means the user is
// past intake, so the conversation continues in FEEDBACK.
func (c *Controller) resume(ctx context.Context, ev models.InboundEvent) (Reply, error) {
	project := c.latestProject(ctx, ev.UserID)
	if project == nil {
		slog.Debug("Controller: text without session or project", "user_id", ev.UserID)
		return Reply{Text: NoProjectMessage}, nil
	}
	sess := Session{UserID: ev.UserID, ChatID: ev.ChatID, Handle: ev.Handle, State: models.StateFeedback}
	c.sessions.Put(sess)
	slog.Info("Controller: session resumed from stored project", "user_id", ev.UserID, "project_id", project.ID)
	return c.handleFeedback(ctx, sess, ev)
}

// latestProject degrades store failures to "no project".
func (c *Controller) latestProject(ctx context.Context, userID string) *models.Project {
	project, err := c.store.LatestProjectForUser(ctx, userID)
	if err != nil {
		slog.Error("Controller: project lookup failed", "user_id", userID, "error", err)
		return nil
	}
	return project
}

// appendTurn persists a turn at most once; failures are logged and dropped.
func (c *Controller) appendTurn(ctx context.Context, project models.Project, message string, role models.Role) {
	err := c.store.InsertConversationTurn(ctx, models.NewConversationTurn{
		UserID:    project.UserID,
		ProjectID: project.ID,
		Message:   message,
		Role:      role,
	})
	if err != nil {
		slog.Error("Controller: turn not persisted", "user_id", project.UserID, "project_id", project.ID, "role", role, "error", err)
	}
}
