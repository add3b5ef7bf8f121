package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"souschef"
	"souschef/api"
	"souschef/mealgen"
	"souschef/pantryusage"
	"souschef/storage"
	"souschef/store"
)

const seed = `{"users": [{"username": "ana", "allergies": ["peanuts"], "telegram_chat_id": "1001",
  "pantry": [{"name": "rice", "quantity": 2, "unit": "kg", "item_type": "Dry"}]}]}`

func testConfig(t *testing.T) souschef.Config {
	t.Helper()
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(seed), 0o644))

	return souschef.Config{
		Model:    souschef.ModelConfig{Provider: ProviderMock, ModelID: "offline"},
		Planner:  souschef.PlannerConfig{MaxAttempts: 3, ComputePantryUsage: true},
		Database: souschef.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		Queue:    souschef.QueueConfig{Workers: 1},
		Server:   souschef.ServerConfig{DashboardURL: "https://app.example.com"},
		Storage:  souschef.StorageConfig{SeedPath: seedPath, ExportDir: filepath.Join(dir, "exports")},
	}
}

func build(t *testing.T, cfg souschef.Config, opts ...Option) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func seedUser(t *testing.T, a *App) *store.User {
	t.Helper()
	ctx := context.Background()
	res, err := storage.Import(ctx, a.Seeds, a.Store)
	require.NoError(t, err)
	require.Equal(t, 1, res.UsersCreated)
	u, err := a.Store.GetUserByUsername(ctx, "ana")
	require.NoError(t, err)
	return u
}

func TestBuild_OfflineChat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := build(t, testConfig(t))
	u := seedUser(t, a)

	assert.Nil(t, a.Telegram)
	assert.Nil(t, a.Line)
	assert.IsType(t, &storage.FileWriter{}, a.Exports)

	body := `{"message": "what's planned this week?", "channel": "web"}`
	req := httptest.NewRequest(http.MethodPost, "/api/assistant/chat", strings.NewReader(body))
	req.Header.Set(api.UserHeader, u.ID)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reply struct {
		Message   string   `json:"message"`
		ToolsUsed []string `json:"tools_used"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, []string{"get_meal_plan"}, reply.ToolsUsed)
	assert.True(t, strings.HasPrefix(reply.Message, "Here is what I found:"))
}

func TestBuild_GenerateEnqueuesUsage(t *testing.T) {
	a := build(t, testConfig(t))
	u := seedUser(t, a)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	week := store.WeekStart(time.Now())
	plan, err := a.Store.GetOrCreatePlan(ctx, u.ID, week)
	require.NoError(t, err)

	res, err := a.Planner.Generate(ctx, mealgen.GenerateRequest{User: u, MealType: store.MealTypeDinner, Day: week, Plan: plan})
	require.NoError(t, err)
	require.NotNil(t, res.Slot)

	q, ok := a.Queue.(*pantryusage.MemoryQueue)
	require.True(t, ok)
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 10*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.Worker.Run(ctx)
	}()
	assert.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	wg.Wait()
}

func TestBuild_Channels(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels = souschef.ChannelConfig{TelegramToken: "123:abc", LineAccessToken: "line-token", SlackWebhookURL: "https://hooks.slack.example/T1"}
	a := build(t, cfg)
	assert.NotNil(t, a.Telegram)
	assert.NotNil(t, a.Line)
	assert.NotNil(t, a.Slack)
}

type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(m.objects[*in.Bucket+"/"+*in.Key]))}, nil
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Bucket+"/"+*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func TestBuild_S3Storage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.S3Bucket = "artifacts"
	cfg.Storage.S3SeedKey = "seed.json"
	cfg.Storage.S3ExportPrefix = "exports"
	client := &memS3{objects: map[string][]byte{"artifacts/seed.json": []byte(seed)}}

	a := build(t, cfg, WithS3(client))
	seedUser(t, a)

	require.NoError(t, a.Exports.Write(context.Background(), "list.txt", []byte("rice")))
	assert.Equal(t, []byte("rice"), client.objects["artifacts/exports/list.txt"])
}

func TestBuild_Errors(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Model.Provider = "carrier-pigeon"
		_, err := Build(context.Background(), cfg)
		assert.ErrorContains(t, err, `unknown LLM provider "carrier-pigeon"`)
	})

	t.Run("unknown database driver", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Database.Driver = "oracle"
		_, err := Build(context.Background(), cfg)
		assert.Error(t, err)
	})
}

func TestNewAttemptLogger(t *testing.T) {
	l, flush, err := newAttemptLogger("", "m")
	require.NoError(t, err)
	assert.IsType(t, &souschef.NoOpAttemptLogger{}, l)
	assert.NoError(t, flush())

	dir := t.TempDir()
	l, flush, err = newAttemptLogger(dir, "meta/llama3:8b")
	require.NoError(t, err)
	require.NoError(t, l.LogAttempt(souschef.AttemptLog{Component: "mealgen", Attempt: 1}))
	require.NoError(t, flush())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0].Name(), ".souschef.meta_llama3_8b.json")
}

func TestNewModels(t *testing.T) {
	ctx := context.Background()

	t.Run("mock", func(t *testing.T) {
		client, embedder, err := newModels(ctx, souschef.ModelConfig{Provider: "Mock"})
		require.NoError(t, err)
		assert.NotNil(t, client)
		assert.NotNil(t, embedder)
	})

	t.Run("ollama embeds with the chat client", func(t *testing.T) {
		client, embedder, err := newModels(ctx, souschef.ModelConfig{Provider: ProviderOllama, ModelID: "llama3.1", EmbeddingProvider: ProviderOllama})
		require.NoError(t, err)
		assert.Same(t, client, embedder)
	})

	t.Run("groq embeds with openai", func(t *testing.T) {
		client, embedder, err := newModels(ctx, souschef.ModelConfig{Provider: ProviderGroq, APIKey: "gsk", EmbeddingProvider: ProviderOpenAI, EmbeddingAPIKey: "sk"})
		require.NoError(t, err)
		assert.NotSame(t, client, embedder)
	})

	t.Run("groq cannot embed", func(t *testing.T) {
		_, _, err := newModels(ctx, souschef.ModelConfig{Provider: ProviderGroq, APIKey: "gsk", EmbeddingProvider: ProviderGroq})
		assert.ErrorContains(t, err, "no embedding endpoint")
	})
}
