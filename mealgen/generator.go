// Package mealgen generates meals with a language model and only accepts
// them once they are complete, unlike anything the user ate recently and
// compatible with the user's diet and allergies.
package mealgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"souschef"
	"souschef/llm"
	"souschef/pantryusage"
	"souschef/store"
)

var (
	ErrIncompleteMeal    = errors.New("incomplete meal")
	ErrDuplicateMeal     = errors.New("duplicate meal")
	ErrUnsafeMeal        = errors.New("unsafe meal")
	ErrAttemptsExhausted = errors.New("meal generation attempts exhausted")
	ErrInvalidRequest    = errors.New("invalid generation request")
	ErrPlanNotOwned      = errors.New("meal plan belongs to another user")
)

var validate = validator.New()

const (
	defaultMaxAttempts         = 3
	defaultSimilarityThreshold = 0.85
	defaultLookbackWeeks       = 3
)

// Repository is the persistence the generator needs.
type Repository interface {
	SafetyRepository
	ListPantry(ctx context.Context, userID string) ([]store.PantryItem, error)
	RecentMeals(ctx context.Context, userID string, since time.Time) ([]store.Meal, error)
	CreateMeal(ctx context.Context, m *store.Meal) error
	AssignSlot(ctx context.Context, planID string, day time.Time, mealType, mealID string) (*store.MealPlanMeal, error)
	GetOrCreatePlan(ctx context.Context, userID string, weekStart time.Time) (*store.MealPlan, error)
	GetPlan(ctx context.Context, id string) (*store.MealPlan, error)
	ListMealsByType(ctx context.Context, mealType string, limit int) ([]store.Meal, error)
}

// UsageEnqueuer schedules pantry usage estimation for a placed meal.
type UsageEnqueuer interface {
	Enqueue(ctx context.Context, task pantryusage.Task) error
}

type Options struct {
	MaxAttempts         int
	SimilarityThreshold float64
	LookbackWeeks       int
	// RetryDelay is waited before every attempt after the first.
	RetryDelay time.Duration

	// Usage is optional; without it no pantry usage is estimated.
	Usage  UsageEnqueuer
	Logger souschef.AttemptLogger
	Tracer trace.Tracer
	Meter  metric.Meter
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = defaultSimilarityThreshold
	}
	if o.LookbackWeeks <= 0 {
		o.LookbackWeeks = defaultLookbackWeeks
	}
	if o.Logger == nil {
		o.Logger = souschef.NewNoOpAttemptLogger()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(souschef.TracerNameMealGen)
	}
	if o.Meter == nil {
		o.Meter = otel.Meter(souschef.TracerNameMealGen)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Generator struct {
	client   llm.Client
	embedder llm.Embedder
	repo     Repository
	safety   *SafetyChecker
	opts     Options

	attempts   metric.Int64Counter
	rejections metric.Int64Counter
	generated  metric.Int64Counter
	exhausted  metric.Int64Counter
	duration   metric.Float64Histogram
}

func NewGenerator(client llm.Client, embedder llm.Embedder, repo Repository, opts Options) *Generator {
	opts = opts.withDefaults()
	g := &Generator{
		client:   client,
		embedder: embedder,
		repo:     repo,
		safety:   NewSafetyChecker(client, repo),
		opts:     opts,
	}
	g.safety.now = opts.Now

	g.attempts, _ = opts.Meter.Int64Counter("mealgen_attempts_total",
		metric.WithDescription("Total number of meal generation attempts"))
	g.rejections, _ = opts.Meter.Int64Counter("mealgen_rejections_total",
		metric.WithDescription("Total number of rejected attempts by reason"))
	g.generated, _ = opts.Meter.Int64Counter("mealgen_meals_generated_total",
		metric.WithDescription("Total number of meals accepted and stored"))
	g.exhausted, _ = opts.Meter.Int64Counter("mealgen_attempts_exhausted_total",
		metric.WithDescription("Total number of generations that ran out of attempts"))
	g.duration, _ = opts.Meter.Float64Histogram("mealgen_duration_seconds",
		metric.WithDescription("Duration of a meal generation in seconds"))
	return g
}

// GenerateRequest asks for one meal. With a Plan the meal is placed in the
// plan's (Day, MealType) slot.
type GenerateRequest struct {
	User     *store.User
	MealType string
	Day      time.Time
	Plan     *store.MealPlan
	// Notes is a free-form request from the user, e.g. "something with salmon".
	Notes string
	// Exclude adds meals that count as recent for the duplicate check.
	Exclude []store.Meal
}

type Result struct {
	Meal     *store.Meal
	Slot     *store.MealPlanMeal
	Attempts int
}

// Generate runs the prompt, validate, deduplicate, safety check loop until a
// meal is accepted or MaxAttempts is reached.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	ctx, span := g.opts.Tracer.Start(ctx, "Generator.Generate")
	defer span.End()
	start := time.Now()
	defer func() { g.duration.Record(ctx, time.Since(start).Seconds()) }()

	mealType, err := checkRequest(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	day := store.DateOf(req.Day)
	span.SetAttributes(
		attribute.String("user_id", req.User.ID),
		attribute.String("meal_type", mealType),
		attribute.String("day", day.Format("2006-01-02")),
	)

	pantry, err := g.repo.ListPantry(ctx, req.User.ID)
	if err != nil {
		return nil, fmt.Errorf("load pantry: %w", err)
	}
	since := store.WeekStart(day).AddDate(0, 0, -7*g.opts.LookbackWeeks)
	priors, err := g.repo.RecentMeals(ctx, req.User.ID, since)
	if err != nil {
		return nil, fmt.Errorf("load recent meals: %w", err)
	}
	priors = append(priors, req.Exclude...)

	messages := []llm.Message{
		llm.System(systemPrompt(mealType)),
		llm.User(userPrompt(promptContext{
			User:     req.User,
			MealType: mealType,
			Day:      day,
			Now:      g.opts.Now(),
			Pantry:   pantry,
			Priors:   priors,
			Notes:    req.Notes,
		})),
	}

	slog.Info("MEALGEN: Starting generation",
		"user_id", req.User.ID,
		"meal_type", mealType,
		"day", day.Format("2006-01-02"),
		"pantry_items", len(pantry),
		"prior_meals", len(priors),
	)

	var lastErr error
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		if attempt > 1 && g.opts.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.opts.RetryDelay):
			}
		}
		g.attempts.Add(ctx, 1)
		remaining := g.opts.MaxAttempts - attempt
		attemptLog := souschef.AttemptLog{
			Component: "mealgen",
			Attempt:   attempt,
			Timestamp: time.Now(),
			UserID:    req.User.ID,
			LLMInput:  messages[len(messages)-1].Content,
		}

		meal, signature, vec, outcome, err := g.attempt(ctx, req.User, &messages, priors, attempt, remaining)
		attemptLog.Outcome = outcome
		if meal != nil {
			attemptLog.LLMOutput = meal
		}
		if err != nil {
			lastErr = err
			attemptLog.Error = err.Error()
			g.logAttempt(attemptLog)
			g.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", outcome)))
			span.AddEvent("attempt rejected", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("reason", outcome),
			))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("MEALGEN: Attempt rejected", "attempt", attempt, "reason", outcome, "error", err)
			continue
		}
		g.logAttempt(attemptLog)

		res, err := g.persist(ctx, req, mealType, day, *meal, signature, vec)
		if err != nil {
			span.SetStatus(codes.Error, "persist failed")
			span.RecordError(err)
			return nil, err
		}
		res.Attempts = attempt
		g.generated.Add(ctx, 1)
		slog.Info("MEALGEN: Meal accepted", "meal_id", res.Meal.ID, "name", res.Meal.Name, "attempt", attempt)
		return res, nil
	}

	g.exhausted.Add(ctx, 1)
	err = fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, g.opts.MaxAttempts, lastErr)
	span.SetStatus(codes.Error, err.Error())
	slog.Error("MEALGEN: Giving up", "user_id", req.User.ID, "meal_type", mealType, "error", lastErr)
	return nil, err
}

// attempt performs one round trip. On any failure it appends the model reply,
// when there is one, and a feedback message to messages and returns the
// outcome code.
func (g *Generator) attempt(ctx context.Context, user *store.User, messages *[]llm.Message, priors []store.Meal, attempt, remaining int) (*GeneratedMeal, string, []float32, string, error) {
	resp, err := g.client.Generate(ctx, llm.Request{Messages: *messages, JSON: true})
	if err != nil {
		*messages = append(*messages, llm.User(feedback("llm_error", err.Error(), attempt, remaining)))
		return nil, "", nil, "llm_error", fmt.Errorf("llm: %w", err)
	}

	fail := func(meal *GeneratedMeal, code, reason string, err error) (*GeneratedMeal, string, []float32, string, error) {
		*messages = append(*messages,
			llm.Assistant(resp.Content),
			llm.User(feedback(code, reason, attempt, remaining)),
		)
		return meal, "", nil, code, err
	}
	reject := func(meal *GeneratedMeal, code, reason string, cause error) (*GeneratedMeal, string, []float32, string, error) {
		return fail(meal, code, reason, fmt.Errorf("%w: %s", cause, reason))
	}

	var meal GeneratedMeal
	if err := llm.DecodeJSON(resp.Content, &meal); err != nil {
		return reject(nil, "invalid_json", err.Error(), ErrIncompleteMeal)
	}
	meal.normalize()
	if err := validate.Struct(meal); err != nil {
		return reject(&meal, "incomplete_meal", validationReason(err), ErrIncompleteMeal)
	}

	signature := Signature(meal)
	vecs, err := g.embedder.Embed(ctx, []string{signature})
	if err == nil && len(vecs) != 1 {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		return fail(&meal, "embedding_error", "the meal could not be compared with recent meals", fmt.Errorf("embed meal: %w", err))
	}
	vec := vecs[0]

	if dup, ok := findDuplicate(meal.Name, vec, priors, g.opts.SimilarityThreshold); ok {
		reason := fmt.Sprintf("%q is too similar (%.2f) to %q from a recent plan", meal.Name, dup.similarity, dup.meal.Name)
		return reject(&meal, "duplicate_meal", reason, ErrDuplicateMeal)
	}

	verdict, err := g.safety.Check(ctx, meal, signature, user)
	if err != nil {
		return fail(&meal, "safety_error", "the meal could not be checked against the dietary requirements", err)
	}
	if !verdict.Passed {
		return reject(&meal, "unsafe_meal", joinReasons(verdict.Reasons), ErrUnsafeMeal)
	}
	return &meal, signature, vec, "accepted", nil
}

func (g *Generator) persist(ctx context.Context, req GenerateRequest, mealType string, day time.Time, meal GeneratedMeal, signature string, vec []float32) (*Result, error) {
	stored := toStoreMeal(meal, req.User.ID, mealType, signature, vec)
	if err := g.repo.CreateMeal(ctx, stored); err != nil {
		return nil, fmt.Errorf("persist meal: %w", err)
	}
	res := &Result{Meal: stored}
	if req.Plan == nil {
		return res, nil
	}

	slot, err := g.repo.AssignSlot(ctx, req.Plan.ID, day, mealType, stored.ID)
	if err != nil {
		return nil, fmt.Errorf("attach meal to plan: %w", err)
	}
	res.Slot = slot

	if g.opts.Usage != nil {
		task := pantryusage.Task{MealID: stored.ID, UserID: req.User.ID, PlanMealID: slot.ID}
		if err := g.opts.Usage.Enqueue(ctx, task); err != nil {
			// The meal is placed either way; usage can be recomputed later.
			slog.Error("MEALGEN: Failed to enqueue pantry usage", "plan_meal_id", slot.ID, "error", err)
		}
	}
	return res, nil
}

func (g *Generator) logAttempt(l souschef.AttemptLog) {
	if err := g.opts.Logger.LogAttempt(l); err != nil {
		slog.Error("MEALGEN: Failed to log attempt", "error", err)
	}
}

func checkRequest(req GenerateRequest) (string, error) {
	if req.User == nil || req.User.ID == "" {
		return "", fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	mealType, ok := store.NormalizeMealType(req.MealType)
	if !ok {
		return "", fmt.Errorf("%w: unknown meal type %q", ErrInvalidRequest, req.MealType)
	}
	if req.Day.IsZero() {
		return "", fmt.Errorf("%w: day is required", ErrInvalidRequest)
	}
	if req.Plan != nil && req.Plan.UserID != req.User.ID {
		return "", ErrPlanNotOwned
	}
	return mealType, nil
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return "missing or invalid fields: " + joinReasons(fields)
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, "; ")
}
