// File: internal/captcha/capsolver_test.go

package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/config"
)

func testSolverConfig(createURL, resultURL string) config.SolverConfig {
	return config.SolverConfig{
		APIKey:          "test-key",
		CreateTaskURL:   createURL,
		GetResultURL:    resultURL,
		RequestTimeout:  5 * time.Second,
		MaxWait:         2 * time.Second,
		PollIntervalMin: 10 * time.Millisecond,
		PollIntervalMax: 20 * time.Millisecond,
	}
}

func TestCreateTask(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var gotBody createTaskRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"errorId": 0, "taskId": "task-123",
			})
		}))
		defer srv.Close()

		c := NewSolverClient(testSolverConfig(srv.URL, srv.URL), zap.NewNop())
		id, err := c.CreateTask(context.Background(), "https://visa.vfsglobal.com/tur/en/aut/register", "sitekey-abc", ChallengeTurnstile)
		require.NoError(t, err)
		assert.Equal(t, "task-123", id)

		assert.Equal(t, "test-key", gotBody.ClientKey)
		assert.Equal(t, "AntiTurnstileTaskProxyLess", gotBody.Task.Type)
		assert.Equal(t, "sitekey-abc", gotBody.Task.WebsiteKey)
		assert.Equal(t, "https://visa.vfsglobal.com/tur/en/aut/register", gotBody.Task.WebsiteURL)
	})

	t.Run("APIError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"errorId": 1, "errorCode": "ERROR_KEY_DENIED_ACCESS", "errorDescription": "bad key",
			})
		}))
		defer srv.Close()

		c := NewSolverClient(testSolverConfig(srv.URL, srv.URL), zap.NewNop())
		_, err := c.CreateTask(context.Background(), "https://example.test", "k", ChallengeRecaptcha)
		assert.ErrorIs(t, err, ErrTaskCreation)
		assert.Contains(t, err.Error(), "ERROR_KEY_DENIED_ACCESS")
	})

	t.Run("UnknownChallenge", func(t *testing.T) {
		c := NewSolverClient(testSolverConfig("http://unused", "http://unused"), zap.NewNop())
		_, err := c.CreateTask(context.Background(), "https://example.test", "k", Challenge("funcaptcha"))
		assert.ErrorIs(t, err, ErrTaskCreation)
	})

	t.Run("NumericTaskIDCoerced", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// taskId as a number fails the typed decode and exercises the
			// lenient path.
			w.Write([]byte(`{"errorId": 0, "taskId": 987654}`))
		}))
		defer srv.Close()

		c := NewSolverClient(testSolverConfig(srv.URL, srv.URL), zap.NewNop())
		id, err := c.CreateTask(context.Background(), "https://example.test", "k", ChallengeHCaptcha)
		require.NoError(t, err)
		assert.Equal(t, "987654", id)
	})
}

func TestPoll(t *testing.T) {
	t.Run("ProcessingThenReady", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls < 3 {
				json.NewEncoder(w).Encode(map[string]interface{}{"errorId": 0, "status": "processing"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"errorId": 0, "status": "ready",
				"solution": map[string]string{"token": "solved-token-value"},
			})
		}))
		defer srv.Close()

		c := NewSolverClient(testSolverConfig(srv.URL, srv.URL), zap.NewNop())
		token, err := c.Poll(context.Background(), "task-1")
		require.NoError(t, err)
		assert.Equal(t, "solved-token-value", token)
		assert.GreaterOrEqual(t, calls, 3)
	})

	t.Run("RecaptchaSolutionField", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"errorId": 0, "status": "ready",
				"solution": map[string]string{"gRecaptchaResponse": "g-token"},
			})
		}))
		defer srv.Close()

		c := NewSolverClient(testSolverConfig(srv.URL, srv.URL), zap.NewNop())
		token, err := c.Poll(context.Background(), "task-2")
		require.NoError(t, err)
		assert.Equal(t, "g-token", token)
	})

	t.Run("Timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"errorId": 0, "status": "processing"})
		}))
		defer srv.Close()

		cfg := testSolverConfig(srv.URL, srv.URL)
		cfg.MaxWait = 100 * time.Millisecond
		c := NewSolverClient(cfg, zap.NewNop())
		_, err := c.Poll(context.Background(), "task-3")
		assert.ErrorIs(t, err, ErrSolveTimeout)
	})

	t.Run("DefinitiveAPIError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"errorId": 12, "errorCode": "ERROR_CAPTCHA_UNSOLVABLE",
			})
		}))
		defer srv.Close()

		c := NewSolverClient(testSolverConfig(srv.URL, srv.URL), zap.NewNop())
		_, err := c.Poll(context.Background(), "task-4")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSolveTimeout)
		assert.Contains(t, err.Error(), "ERROR_CAPTCHA_UNSOLVABLE")
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"errorId": 0, "status": "processing"})
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		c := NewSolverClient(testSolverConfig(srv.URL, srv.URL), zap.NewNop())
		_, err := c.Poll(ctx, "task-5")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSolveToken(t *testing.T) {
	t.Run("SDKIsPrimary", func(t *testing.T) {
		apiCalls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiCalls++
		}))
		defer srv.Close()

		c := NewSolverClient(testSolverConfig(srv.URL, srv.URL), zap.NewNop())
		var gotTask map[string]any
		c.solveSDK = func(task map[string]any) (string, error) {
			gotTask = task
			return "sdk-token", nil
		}

		token, err := c.SolveToken(context.Background(), "https://visa.vfsglobal.com/tur/en/aut/register", "sitekey-abc", ChallengeTurnstile)
		require.NoError(t, err)
		assert.Equal(t, "sdk-token", token)
		assert.Zero(t, apiCalls, "direct API must not be touched when the SDK solves")

		assert.Equal(t, "AntiTurnstileTaskProxyLess", gotTask["type"])
		assert.Equal(t, "sitekey-abc", gotTask["websiteKey"])
		assert.Equal(t, "https://visa.vfsglobal.com/tur/en/aut/register", gotTask["websiteURL"])
	})

	t.Run("SDKFailureFallsBackToDirectAPI", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if _, ok := req["taskId"]; ok {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"errorId": 0, "status": "ready",
					"solution": map[string]string{"token": "fallback-token"},
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"errorId": 0, "taskId": "task-9"})
		}))
		defer srv.Close()

		c := NewSolverClient(testSolverConfig(srv.URL, srv.URL), zap.NewNop())
		sdkCalls := 0
		c.solveSDK = func(task map[string]any) (string, error) {
			sdkCalls++
			return "", errors.New("sdk transport down")
		}

		token, err := c.SolveToken(context.Background(), "https://example.com", "sitekey", ChallengeTurnstile)
		require.NoError(t, err)
		assert.Equal(t, "fallback-token", token)
		assert.Equal(t, 1, sdkCalls)
	})

	t.Run("SDKAbsentUsesDirectAPI", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if _, ok := req["taskId"]; ok {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"errorId": 0, "status": "ready",
					"solution": map[string]string{"token": "direct-token"},
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"errorId": 0, "taskId": "task-10"})
		}))
		defer srv.Close()

		c := NewSolverClient(testSolverConfig(srv.URL, srv.URL), zap.NewNop())
		c.solveSDK = nil

		token, err := c.SolveToken(context.Background(), "https://example.com", "sitekey", ChallengeTurnstile)
		require.NoError(t, err)
		assert.Equal(t, "direct-token", token)
	})

	t.Run("UnknownChallenge", func(t *testing.T) {
		c := NewSolverClient(testSolverConfig("http://unused", "http://unused"), zap.NewNop())
		c.solveSDK = func(task map[string]any) (string, error) {
			t.Error("sdk must not be called for an unknown challenge type")
			return "", nil
		}
		_, err := c.SolveToken(context.Background(), "https://example.com", "sitekey", ChallengeNone)
		assert.ErrorIs(t, err, ErrTaskCreation)
	})

	t.Run("ContextCancellationDuringSDK", func(t *testing.T) {
		c := NewSolverClient(testSolverConfig("http://unused", "http://unused"), zap.NewNop())
		release := make(chan struct{})
		c.solveSDK = func(task map[string]any) (string, error) {
			<-release
			return "too-late", nil
		}
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := c.SolveToken(ctx, "https://example.com", "sitekey", ChallengeTurnstile)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
