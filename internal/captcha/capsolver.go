// File: internal/captcha/capsolver.go

package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	capsolver "github.com/capsolver/capsolver-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/config"
)

var (
	// ErrTaskCreation wraps every failure mode of the createTask call: API
	// error codes, transport failures, malformed bodies. The cause is logged
	// separately so the caller only has to branch on the sentinel.
	ErrTaskCreation = errors.New("captcha: solver task creation failed")

	// ErrSolveTimeout means the task never reached "ready" within the
	// configured ceiling.
	ErrSolveTimeout = errors.New("captcha: solver did not produce a token in time")
)

// taskTypes maps the challenge family to the solver's proxyless task type.
var taskTypes = map[Challenge]string{
	ChallengeTurnstile: "AntiTurnstileTaskProxyLess",
	ChallengeRecaptcha: "ReCaptchaV2TaskProxyLess",
	ChallengeHCaptcha:  "HCaptchaTaskProxyLess",
}

// SolverClient solves challenges through the CapSolver service. The SDK
// client is the primary path; when it errors, the same task is retried over
// the typed HTTP client below, which speaks the two-phase createTask /
// getTaskResult protocol directly. Poll intervals are randomized so the
// traffic pattern is not metronomic.
type SolverClient struct {
	cfg        config.SolverConfig
	solveSDK   func(task map[string]any) (string, error)
	httpClient *http.Client
	logger     *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewSolverClient(cfg config.SolverConfig, logger *zap.Logger) *SolverClient {
	return &SolverClient{
		cfg:        cfg,
		solveSDK:   newSDKSolve(cfg.APIKey),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// newSDKSolve wraps the CapSolver SDK client. The SDK runs its own
// createTask/poll cycle internally and returns the finished solution.
func newSDKSolve(apiKey string) func(task map[string]any) (string, error) {
	api := capsolver.CapSolver{ApiKey: apiKey}
	return func(task map[string]any) (string, error) {
		res, err := api.Solve(task)
		if err != nil {
			return "", err
		}
		if res == nil {
			return "", errors.New("sdk returned no response")
		}
		token := res.Solution.Token
		if token == "" {
			token = res.Solution.GRecaptchaResponse
		}
		if token == "" {
			return "", errors.New("sdk solution carried no token")
		}
		return token, nil
	}
}

type createTaskRequest struct {
	ClientKey string     `json:"clientKey"`
	Task      solverTask `json:"task"`
}

type solverTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type getResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type solverResponse struct {
	ErrorID          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	TaskID           string          `json:"taskId"`
	Status           string          `json:"status"`
	Solution         *solverSolution `json:"solution"`
}

type solverSolution struct {
	Token              string `json:"token"`
	GRecaptchaResponse string `json:"gRecaptchaResponse"`
}

func (s *solverSolution) tokenValue() string {
	if s == nil {
		return ""
	}
	if s.Token != "" {
		return s.Token
	}
	return s.GRecaptchaResponse
}

// CreateTask submits a solving task and returns the task id.
func (c *SolverClient) CreateTask(ctx context.Context, pageURL, siteKey string, challenge Challenge) (string, error) {
	taskType, ok := taskTypes[challenge]
	if !ok {
		return "", fmt.Errorf("%w: no task type for challenge %q", ErrTaskCreation, challenge)
	}

	resp, err := c.post(ctx, c.cfg.CreateTaskURL, createTaskRequest{
		ClientKey: c.cfg.APIKey,
		Task: solverTask{
			Type:       taskType,
			WebsiteURL: pageURL,
			WebsiteKey: siteKey,
		},
	})
	if err != nil {
		c.logger.Warn("Solver createTask request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrTaskCreation, err)
	}
	if resp.ErrorID != 0 {
		c.logger.Warn("Solver rejected task",
			zap.String("error_code", resp.ErrorCode),
			zap.String("error_description", resp.ErrorDescription))
		return "", fmt.Errorf("%w: api error %s", ErrTaskCreation, resp.ErrorCode)
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("%w: response carried no taskId", ErrTaskCreation)
	}

	c.logger.Info("Solver task created",
		zap.String("task_type", taskType), zap.String("task_id", resp.TaskID))
	return resp.TaskID, nil
}

// Poll waits for the task to complete, at randomized intervals, up to the
// configured ceiling. Transient poll errors are logged and retried; only the
// ceiling or a definitive API error ends the loop.
func (c *SolverClient) Poll(ctx context.Context, taskID string) (string, error) {
	deadline := time.Now().Add(c.cfg.MaxWait)

	for time.Now().Before(deadline) {
		if err := c.sleepInterval(ctx); err != nil {
			return "", err
		}

		resp, err := c.post(ctx, c.cfg.GetResultURL, getResultRequest{
			ClientKey: c.cfg.APIKey,
			TaskID:    taskID,
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.logger.Warn("Solver poll failed, retrying", zap.Error(err))
			continue
		}
		if resp.ErrorID != 0 {
			return "", fmt.Errorf("captcha: solver reported %s: %s", resp.ErrorCode, resp.ErrorDescription)
		}

		switch resp.Status {
		case "ready":
			token := resp.Solution.tokenValue()
			if token == "" {
				return "", fmt.Errorf("captcha: solver ready but solution carried no token")
			}
			c.logger.Info("Solver produced token",
				zap.String("task_id", taskID), zap.Int("token_length", len(token)))
			return token, nil
		case "processing":
			c.logger.Debug("Solver still processing", zap.String("task_id", taskID))
		default:
			c.logger.Warn("Solver returned unexpected status",
				zap.String("task_id", taskID), zap.String("status", resp.Status))
		}
	}

	return "", fmt.Errorf("%w: task %s after %s", ErrSolveTimeout, taskID, c.cfg.MaxWait)
}

// SolveToken solves one challenge end to end: SDK first, then the direct
// two-phase protocol when the SDK path errors or is absent.
func (c *SolverClient) SolveToken(ctx context.Context, pageURL, siteKey string, challenge Challenge) (string, error) {
	taskType, ok := taskTypes[challenge]
	if !ok {
		return "", fmt.Errorf("%w: no task type for challenge %q", ErrTaskCreation, challenge)
	}

	if c.solveSDK != nil {
		token, err := c.runSDK(ctx, map[string]any{
			"type":       taskType,
			"websiteURL": pageURL,
			"websiteKey": siteKey,
		})
		if err == nil {
			c.logger.Info("Solver produced token",
				zap.String("path", "sdk"), zap.Int("token_length", len(token)))
			return token, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("SDK solve failed, retrying over direct API", zap.Error(err))
	}

	taskID, err := c.CreateTask(ctx, pageURL, siteKey, challenge)
	if err != nil {
		return "", err
	}
	return c.Poll(ctx, taskID)
}

// runSDK drives the blocking SDK call under ctx. The SDK takes no context,
// so cancellation abandons the call; the goroutine drains into a buffered
// channel and exits when the SDK returns.
func (c *SolverClient) runSDK(ctx context.Context, task map[string]any) (string, error) {
	type sdkResult struct {
		token string
		err   error
	}
	done := make(chan sdkResult, 1)
	go func() {
		token, err := c.solveSDK(task)
		done <- sdkResult{token, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.token, r.err
	}
}

// post sends a JSON request and decodes the response. It first attempts the
// typed decode; if that fails on a 200 it retries leniently against a raw map
// so a field-type drift in the API (taskId as number, say) degrades instead
// of failing.
func (c *SolverClient) post(ctx context.Context, url string, payload interface{}) (*solverResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, truncate(string(raw), 200))
	}

	var resp solverResponse
	if err := json.Unmarshal(raw, &resp); err == nil {
		return &resp, nil
	}
	return decodeLenient(raw)
}

// decodeLenient re-parses a response whose field types did not match the
// typed struct, coercing what it can.
func decodeLenient(raw []byte) (*solverResponse, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("malformed response body: %s", truncate(string(raw), 200))
	}

	resp := &solverResponse{}
	if v, ok := m["errorId"].(float64); ok {
		resp.ErrorID = int(v)
	}
	if v, ok := m["errorCode"].(string); ok {
		resp.ErrorCode = v
	}
	if v, ok := m["errorDescription"].(string); ok {
		resp.ErrorDescription = v
	}
	if v, ok := m["status"].(string); ok {
		resp.Status = v
	}
	switch v := m["taskId"].(type) {
	case string:
		resp.TaskID = v
	case float64:
		resp.TaskID = fmt.Sprintf("%.0f", v)
	}
	if sol, ok := m["solution"].(map[string]interface{}); ok {
		resp.Solution = &solverSolution{}
		if t, ok := sol["token"].(string); ok {
			resp.Solution.Token = t
		}
		if t, ok := sol["gRecaptchaResponse"].(string); ok {
			resp.Solution.GRecaptchaResponse = t
		}
	}
	return resp, nil
}

func (c *SolverClient) sleepInterval(ctx context.Context) error {
	c.rngMu.Lock()
	span := c.cfg.PollIntervalMax - c.cfg.PollIntervalMin
	d := c.cfg.PollIntervalMin
	if span > 0 {
		d += time.Duration(c.rng.Int63n(int64(span)))
	}
	c.rngMu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
