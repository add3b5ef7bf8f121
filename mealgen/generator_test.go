package mealgen

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"souschef/llm"
	"souschef/llm/mock"
	"souschef/pantryusage"
	"souschef/store"
)

var testNow = time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []pantryusage.Task
	err   error
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, task pantryusage.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return r.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestUser(t *testing.T, s *store.Store, prefs []string, allergies []string) *store.User {
	t.Helper()
	ctx := context.Background()
	u := &store.User{Username: "user-" + strings.ReplaceAll(t.Name(), "/", "-"), HouseholdSize: 2}
	require.NoError(t, s.CreateUser(ctx, u))
	u, err := s.SetDietaryProfile(ctx, u.ID, prefs, allergies)
	require.NoError(t, err)
	return u
}

func newTestGenerator(client llm.Client, s *store.Store, usage UsageEnqueuer) *Generator {
	return NewGenerator(client, mock.NewEmbedder(), s, Options{
		MaxAttempts: 3,
		Usage:       usage,
		Now:         func() time.Time { return testNow },
	})
}

type mealFixture struct {
	name, description string
	tags              []string
	dishes            map[string][]string
}

var (
	lentilSoup = mealFixture{
		name:        "Lentil Soup",
		description: "Hearty red lentil soup",
		tags:        []string{"Vegetarian"},
		dishes:      map[string][]string{"Lentil Soup": {"red lentils", "carrot", "onion"}},
	}
	salmonBowl = mealFixture{
		name:        "Salmon Bowl",
		description: "Seared salmon over jasmine rice",
		tags:        []string{"Pescatarian"},
		dishes:      map[string][]string{"Salmon Rice Bowl": {"salmon", "jasmine rice", "spinach"}},
	}
	peanutNoodles = mealFixture{
		name:        "Peanut Noodles",
		description: "Cold noodles tossed in peanut sauce",
		dishes:      map[string][]string{"Sesame Peanut Noodles": {"rice noodles", "peanut butter", "cucumber"}},
	}
	mushroomRisotto = mealFixture{
		name:        "Mushroom Risotto",
		description: "Creamy arborio risotto with porcini",
		tags:        []string{"Vegetarian"},
		dishes:      map[string][]string{"Porcini Risotto": {"arborio", "porcini", "parmesan"}},
	}
)

func (f mealFixture) meal() GeneratedMeal {
	m := GeneratedMeal{Name: f.name, Description: f.description, DietaryTags: f.tags}
	for dish, ings := range f.dishes {
		d := GeneratedDish{Name: dish}
		for _, ing := range ings {
			d.Ingredients = append(d.Ingredients, GeneratedIngredient{Name: ing, Quantity: 100, Unit: "g"})
		}
		m.Dishes = append(m.Dishes, d)
	}
	m.normalize()
	return m
}

func (f mealFixture) json(t *testing.T) string {
	t.Helper()
	b, err := json.Marshal(f.meal())
	require.NoError(t, err)
	return string(b)
}

const compatible = `{"compatible": true, "reasons": []}`

func TestGenerator_Generate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := newTestUser(t, s, nil, nil)
	plan, err := s.GetOrCreatePlan(ctx, user.ID, testNow)
	require.NoError(t, err)

	client := mock.NewClient(mock.Reply("Here you go:\n```json\n" + lentilSoup.json(t) + "\n```"))
	usage := &recordingEnqueuer{}
	g := newTestGenerator(client, s, usage)

	res, err := g.Generate(ctx, GenerateRequest{User: user, MealType: "dinner", Day: testNow, Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "Lentil Soup", res.Meal.Name)
	assert.Equal(t, store.MealTypeDinner, res.Meal.MealType)
	assert.NotEmpty(t, res.Meal.Embedding)
	require.NotNil(t, res.Slot)
	assert.True(t, store.DateOf(testNow).Equal(res.Slot.Day))

	stored, err := s.GetMeal(ctx, res.Meal.ID)
	require.NoError(t, err)
	require.Len(t, stored.Dishes, 1)
	assert.Len(t, stored.Dishes[0].Ingredients, 3)

	require.Len(t, usage.tasks, 1)
	assert.Equal(t, pantryusage.Task{MealID: res.Meal.ID, UserID: user.ID, PlanMealID: res.Slot.ID}, usage.tasks[0])

	// No preferences or allergies means no safety review call.
	assert.Equal(t, 1, client.CallCount())
	req := client.Requests()[0]
	assert.True(t, req.JSON)
	assert.Contains(t, req.Messages[0].Content, "dinner")
}

func TestGenerator_Generate_WithoutPlan(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := newTestUser(t, s, nil, nil)
	usage := &recordingEnqueuer{}
	g := newTestGenerator(mock.NewClient(mock.Reply(salmonBowl.json(t))), s, usage)

	res, err := g.Generate(ctx, GenerateRequest{User: user, MealType: "Lunch", Day: testNow})
	require.NoError(t, err)
	assert.Nil(t, res.Slot)
	assert.Empty(t, usage.tasks)
}

func TestGenerator_Generate_Retries(t *testing.T) {
	tests := []struct {
		name         string
		prefs        []string
		allergies    []string
		seedRecent   *mealFixture
		replies      func(t *testing.T) []mock.Step
		wantAttempts int
		wantMeal     string
		wantFeedback string
	}{
		{
			name: "unparsable output",
			replies: func(t *testing.T) []mock.Step {
				return []mock.Step{mock.Reply("I cannot decide."), mock.Reply(lentilSoup.json(t))}
			},
			wantAttempts: 2,
			wantMeal:     "Lentil Soup",
			wantFeedback: "invalid_json",
		},
		{
			name: "incomplete meal",
			replies: func(t *testing.T) []mock.Step {
				return []mock.Step{mock.Reply(`{"name": "Mystery Stew", "dishes": []}`), mock.Reply(lentilSoup.json(t))}
			},
			wantAttempts: 2,
			wantMeal:     "Lentil Soup",
			wantFeedback: "incomplete_meal",
		},
		{
			name: "llm error",
			replies: func(t *testing.T) []mock.Step {
				return []mock.Step{mock.Fail(errors.New("rate limited")), mock.Reply(lentilSoup.json(t))}
			},
			wantAttempts: 2,
			wantMeal:     "Lentil Soup",
			wantFeedback: "rate limited",
		},
		{
			name:  "safety review error",
			prefs: []string{"Vegan"},
			replies: func(t *testing.T) []mock.Step {
				return []mock.Step{
					mock.Reply(mushroomRisotto.json(t)),
					mock.Fail(errors.New("overloaded")),
					mock.Reply(lentilSoup.json(t)),
					mock.Reply(compatible),
				}
			},
			wantAttempts: 2,
			wantMeal:     "Lentil Soup",
			wantFeedback: "safety_error",
		},
		{
			name:       "duplicate of a recent meal",
			seedRecent: &lentilSoup,
			replies: func(t *testing.T) []mock.Step {
				return []mock.Step{mock.Reply(lentilSoup.json(t)), mock.Reply(salmonBowl.json(t))}
			},
			wantAttempts: 2,
			wantMeal:     "Salmon Bowl",
			wantFeedback: "duplicate_meal",
		},
		{
			name:      "allergen found by scan",
			allergies: []string{"peanuts"},
			replies: func(t *testing.T) []mock.Step {
				return []mock.Step{
					mock.Reply(peanutNoodles.json(t)),
					mock.Reply(salmonBowl.json(t)),
					mock.Reply(compatible),
				}
			},
			wantAttempts: 2,
			wantMeal:     "Salmon Bowl",
			wantFeedback: "unsafe_meal",
		},
		{
			name:  "diet rejected by review",
			prefs: []string{"Vegan"},
			replies: func(t *testing.T) []mock.Step {
				return []mock.Step{
					mock.Reply(mushroomRisotto.json(t)),
					mock.Reply(`{"compatible": false, "reasons": ["parmesan is dairy"]}`),
					mock.Reply(lentilSoup.json(t)),
					mock.Reply(compatible),
				}
			},
			wantAttempts: 2,
			wantMeal:     "Lentil Soup",
			wantFeedback: "parmesan is dairy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t)
			user := newTestUser(t, s, tt.prefs, tt.allergies)
			plan, err := s.GetOrCreatePlan(ctx, user.ID, testNow)
			require.NoError(t, err)

			if tt.seedRecent != nil {
				m := tt.seedRecent.meal()
				sig := Signature(m)
				vecs, err := mock.NewEmbedder().Embed(ctx, []string{sig})
				require.NoError(t, err)
				prior := toStoreMeal(m, user.ID, store.MealTypeDinner, sig, vecs[0])
				require.NoError(t, s.CreateMeal(ctx, prior))
				_, err = s.AssignSlot(ctx, plan.ID, plan.WeekStart, store.MealTypeDinner, prior.ID)
				require.NoError(t, err)
			}

			client := mock.NewClient(tt.replies(t)...)
			g := newTestGenerator(client, s, nil)
			res, err := g.Generate(ctx, GenerateRequest{User: user, MealType: "Dinner", Day: testNow, Plan: plan})
			require.NoError(t, err)

			assert.Equal(t, tt.wantAttempts, res.Attempts)
			assert.Equal(t, tt.wantMeal, res.Meal.Name)

			if tt.wantFeedback != "" {
				var retry *llm.Request
				for _, r := range client.Requests() {
					if len(r.Messages) > 2 {
						retry = &r
					}
				}
				require.NotNil(t, retry, "expected a re-prompt with feedback")
				last := retry.Messages[len(retry.Messages)-1]
				assert.Equal(t, llm.RoleUser, last.Role)
				assert.Contains(t, last.Content, tt.wantFeedback)
			}
		})
	}
}

type flakyEmbedder struct {
	failures int
	mock.Embedder
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("embedding endpoint unavailable")
	}
	return f.Embedder.Embed(ctx, texts)
}

func TestGenerator_Generate_EmbeddingErrorReprompts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := newTestUser(t, s, nil, nil)

	client := mock.NewClient(mock.Reply(lentilSoup.json(t)), mock.Reply(salmonBowl.json(t)))
	g := NewGenerator(client, &flakyEmbedder{failures: 1}, s, Options{
		MaxAttempts: 3,
		Now:         func() time.Time { return testNow },
	})

	res, err := g.Generate(ctx, GenerateRequest{User: user, MealType: "Dinner", Day: testNow})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)

	retry := client.Requests()[1]
	require.Len(t, retry.Messages, 4)
	assert.Equal(t, llm.RoleAssistant, retry.Messages[2].Role)
	assert.Contains(t, retry.Messages[3].Content, "embedding_error")
}

func TestGenerator_Generate_Exhausted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := newTestUser(t, s, nil, nil)

	client := mock.NewClient(
		mock.Reply(`{"name": "A"}`),
		mock.Reply(`{"name": "B"}`),
		mock.Reply(`{"name": "C"}`),
	)
	g := newTestGenerator(client, s, nil)

	res, err := g.Generate(ctx, GenerateRequest{User: user, MealType: "Breakfast", Day: testNow})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, ErrIncompleteMeal)
	assert.Equal(t, 3, client.CallCount())

	meals, err := s.ListMealsByType(ctx, store.MealTypeBreakfast, 0)
	require.NoError(t, err)
	assert.Empty(t, meals)
}

func TestGenerator_Generate_SafetyCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := newTestUser(t, s, []string{"Vegetarian"}, nil)

	hash := SignatureHash(Signature(lentilSoup.meal()))
	require.NoError(t, s.SaveSafetyCheck(ctx, &store.MealSafetyCheck{
		SignatureHash: hash,
		PreferenceKey: "Vegetarian",
		Passed:        true,
		CheckedAt:     testNow,
	}))

	client := mock.NewClient(mock.Reply(lentilSoup.json(t)))
	g := newTestGenerator(client, s, nil)

	res, err := g.Generate(ctx, GenerateRequest{User: user, MealType: "Dinner", Day: testNow})
	require.NoError(t, err)
	assert.Equal(t, "Lentil Soup", res.Meal.Name)
	assert.Equal(t, 1, client.CallCount(), "cached verdict should skip the review call")
}

func TestGenerator_Generate_CachesVerdict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := newTestUser(t, s, []string{"Vegan"}, nil)

	client := mock.NewClient(
		mock.Reply(mushroomRisotto.json(t)),
		mock.Reply(`{"compatible": false, "reasons": ["parmesan is dairy"]}`),
		mock.Reply(lentilSoup.json(t)),
		mock.Reply(compatible),
	)
	g := newTestGenerator(client, s, nil)
	_, err := g.Generate(ctx, GenerateRequest{User: user, MealType: "Dinner", Day: testNow})
	require.NoError(t, err)

	rejected, err := s.GetSafetyCheck(ctx, SignatureHash(Signature(mushroomRisotto.meal())), "Vegan")
	require.NoError(t, err)
	assert.False(t, rejected.Passed)
	assert.Equal(t, "parmesan is dairy", rejected.Reason)

	accepted, err := s.GetSafetyCheck(ctx, SignatureHash(Signature(lentilSoup.meal())), "Vegan")
	require.NoError(t, err)
	assert.True(t, accepted.Passed)
}

func TestGenerator_Generate_InvalidRequest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := newTestUser(t, s, nil, nil)
	other := &store.User{Username: "someone-else"}
	require.NoError(t, s.CreateUser(ctx, other))
	otherPlan, err := s.GetOrCreatePlan(ctx, other.ID, testNow)
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     GenerateRequest
		wantErr error
	}{
		{name: "missing user", req: GenerateRequest{MealType: "Dinner", Day: testNow}, wantErr: ErrInvalidRequest},
		{name: "unknown meal type", req: GenerateRequest{User: user, MealType: "Brunch", Day: testNow}, wantErr: ErrInvalidRequest},
		{name: "missing day", req: GenerateRequest{User: user, MealType: "Dinner"}, wantErr: ErrInvalidRequest},
		{name: "foreign plan", req: GenerateRequest{User: user, MealType: "Dinner", Day: testNow, Plan: otherPlan}, wantErr: ErrPlanNotOwned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mock.NewClient()
			g := newTestGenerator(client, s, nil)
			_, err := g.Generate(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, client.CallCount())
		})
	}
}

func TestGenerator_Generate_EnqueueFailureKeepsMeal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := newTestUser(t, s, nil, nil)
	plan, err := s.GetOrCreatePlan(ctx, user.ID, testNow)
	require.NoError(t, err)

	usage := &recordingEnqueuer{err: errors.New("redis down")}
	g := newTestGenerator(mock.NewClient(mock.Reply(lentilSoup.json(t))), s, usage)

	res, err := g.Generate(ctx, GenerateRequest{User: user, MealType: "Dinner", Day: testNow, Plan: plan})
	require.NoError(t, err)
	require.NotNil(t, res.Slot)
	assert.Len(t, usage.tasks, 1)
}
