package mealgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"souschef/llm"
	"souschef/store"
)

// SafetyRepository persists safety verdicts.
type SafetyRepository interface {
	GetSafetyCheck(ctx context.Context, signatureHash, preferenceKey string) (*store.MealSafetyCheck, error)
	SaveSafetyCheck(ctx context.Context, c *store.MealSafetyCheck) error
}

// SafetyResult aggregates the verdicts for every preference key of a user.
type SafetyResult struct {
	Passed    bool
	Reasons   []string
	CacheHits int
	LLMChecks int
}

type safetyVerdict struct {
	Compatible *bool    `json:"compatible" validate:"required"`
	Reasons    []string `json:"reasons"`
}

// Preferences that place no restriction on a meal.
var unrestricted = map[string]bool{
	"everything":      true,
	"none":            true,
	"no restrictions": true,
}

// Keywords that reveal an allergen in an ingredient or dish name.
var allergenKeywords = map[string][]string{
	"peanut":    {"peanut"},
	"peanuts":   {"peanut"},
	"tree nuts": {"nut", "almond", "walnut", "cashew", "pecan", "hazelnut", "pistachio", "macadamia"},
	"nuts":      {"nut", "almond", "walnut", "cashew", "pecan", "hazelnut", "pistachio", "macadamia", "peanut"},
	"shellfish": {"shellfish", "shrimp", "prawn", "crab", "lobster", "scallop", "clam", "mussel", "oyster"},
	"fish":      {"fish", "salmon", "tuna", "cod", "anchovy", "sardine", "trout", "halibut", "tilapia"},
	"dairy":     {"dairy", "milk", "cheese", "butter", "cream", "yogurt", "ghee"},
	"milk":      {"milk", "cheese", "butter", "cream", "yogurt", "ghee"},
	"egg":       {"egg", "mayonnaise"},
	"eggs":      {"egg", "mayonnaise"},
	"gluten":    {"gluten", "wheat", "flour", "bread", "pasta", "barley", "rye", "couscous", "noodle"},
	"wheat":     {"wheat", "flour", "bread", "pasta", "couscous"},
	"soy":       {"soy", "tofu", "edamame", "tempeh", "miso"},
	"sesame":    {"sesame", "tahini"},
}

// Plant-based ingredients whose names contain a dairy keyword.
var plantQualifiers = []string{"almond", "oat", "soy", "coconut", "rice", "cashew", "vegan", "peanut", "butter lettuce", "cocoa butter"}

// SafetyChecker verifies a meal against a user's allergens and dietary
// preferences. Each (meal signature, preference key) verdict is cached so a
// meal is only reviewed by the model once per requirement.
type SafetyChecker struct {
	client llm.Client
	repo   SafetyRepository
	now    func() time.Time
}

func NewSafetyChecker(client llm.Client, repo SafetyRepository) *SafetyChecker {
	return &SafetyChecker{client: client, repo: repo, now: time.Now}
}

// PreferenceKeys lists the requirements a meal is checked against: each
// restricting dietary preference plus one combined allergen key.
func PreferenceKeys(u *store.User) []string {
	var keys []string
	for _, name := range u.PreferenceNames() {
		if unrestricted[strings.ToLower(strings.TrimSpace(name))] {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	if allergens := normalizedAllergens(u.Allergies); len(allergens) > 0 {
		keys = append(keys, "allergens:"+strings.Join(allergens, ","))
	}
	return keys
}

func normalizedAllergens(in []string) []string {
	out := dedupe(in)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	sort.Strings(out)
	return out
}

// Check runs the deterministic allergen scan and then each preference
// check, consulting the cache before the model. A model error is returned
// as an error and nothing is cached for it.
func (s *SafetyChecker) Check(ctx context.Context, meal GeneratedMeal, signature string, user *store.User) (SafetyResult, error) {
	if hits := scanAllergens(meal, user.Allergies); len(hits) > 0 {
		return SafetyResult{Passed: false, Reasons: hits}, nil
	}

	result := SafetyResult{Passed: true}
	hash := SignatureHash(signature)
	for _, key := range PreferenceKeys(user) {
		cached, err := s.repo.GetSafetyCheck(ctx, hash, key)
		switch {
		case err == nil:
			result.CacheHits++
			if !cached.Passed {
				result.Passed = false
				result.Reasons = append(result.Reasons, cachedReason(key, cached.Reason))
			}
			continue
		case !errors.Is(err, store.ErrNotFound):
			return SafetyResult{}, err
		}

		verdict, err := s.review(ctx, signature, key)
		if err != nil {
			return SafetyResult{}, fmt.Errorf("safety check %q: %w", key, err)
		}
		result.LLMChecks++

		passed := *verdict.Compatible
		reason := strings.Join(verdict.Reasons, "; ")
		if err := s.repo.SaveSafetyCheck(ctx, &store.MealSafetyCheck{
			SignatureHash: hash,
			PreferenceKey: key,
			Passed:        passed,
			Reason:        reason,
			CheckedAt:     s.now(),
		}); err != nil {
			slog.Warn("MEALGEN: failed to cache safety verdict", "key", key, "error", err)
		}
		if !passed {
			result.Passed = false
			result.Reasons = append(result.Reasons, cachedReason(key, reason))
		}
	}
	return result, nil
}

func cachedReason(key, reason string) string {
	if reason == "" {
		return fmt.Sprintf("incompatible with %s", describeKey(key))
	}
	return fmt.Sprintf("incompatible with %s: %s", describeKey(key), reason)
}

func describeKey(key string) string {
	if list, ok := strings.CutPrefix(key, "allergens:"); ok {
		return "allergies (" + strings.ReplaceAll(list, ",", ", ") + ")"
	}
	return key + " diet"
}

func (s *SafetyChecker) review(ctx context.Context, signature, key string) (safetyVerdict, error) {
	resp, err := s.client.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(safetySystemPrompt),
			llm.User(safetyUserPrompt(signature, key)),
		},
		JSON:        true,
		Temperature: 0.1,
	})
	if err != nil {
		return safetyVerdict{}, err
	}
	var v safetyVerdict
	if err := llm.DecodeJSON(resp.Content, &v); err != nil {
		return safetyVerdict{}, err
	}
	if err := validate.Struct(v); err != nil {
		return safetyVerdict{}, fmt.Errorf("incomplete verdict: %w", err)
	}
	return v, nil
}

// scanAllergens flags ingredients or dishes whose words match an allergen.
func scanAllergens(meal GeneratedMeal, allergies []string) []string {
	var hits []string
	seen := map[string]bool{}
	check := func(allergen, text string) {
		lower := strings.ToLower(text)
		for _, kw := range keywordsFor(allergen) {
			if containsWord(lower, kw) && !plantBased(lower, allergen) {
				msg := fmt.Sprintf("%q contains allergen %s", text, allergen)
				if !seen[msg] {
					seen[msg] = true
					hits = append(hits, msg)
				}
				return
			}
		}
	}
	for _, allergen := range allergies {
		allergen = strings.ToLower(strings.TrimSpace(allergen))
		if allergen == "" {
			continue
		}
		for _, d := range meal.Dishes {
			check(allergen, d.Name)
			for _, ing := range d.Ingredients {
				check(allergen, ing.Name)
			}
		}
	}
	return hits
}

func keywordsFor(allergen string) []string {
	if kws, ok := allergenKeywords[allergen]; ok {
		return kws
	}
	return []string{strings.TrimSuffix(allergen, "s")}
}

// containsWord matches kw as whole words of text, allowing a plural suffix
// on its last word. kw may span several words.
func containsWord(text, kw string) bool {
	words := splitWords(text)
	want := splitWords(kw)
	if len(want) == 0 {
		return false
	}
	last := len(want) - 1
	for i := 0; i+last < len(words); i++ {
		match := true
		for j, k := range want {
			w := words[i+j]
			if w == k || (j == last && (w == k+"s" || w == k+"es")) {
				continue
			}
			match = false
			break
		}
		if match {
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
}

func plantBased(text, allergen string) bool {
	if allergen != "dairy" && allergen != "milk" {
		return false
	}
	for _, q := range plantQualifiers {
		if containsWord(text, q) {
			return true
		}
	}
	return false
}
