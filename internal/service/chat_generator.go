package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// ChatContext 產生 AI 發言時提供的上下文
type ChatContext struct {
	RoomID    string
	PlayerID  string
	Round     int
	Recent    []string           // 最近的聊天記錄，格式為 "sender: message"
	Trigger   string             // 要回應的人類發言，白天剛開始時為空
	VoteShare map[string]float64 // 上一次投票結算的得票比例
}

// ChatGenerator 為 AI 席位產生白天的發言內容，回傳空字串表示不發言
type ChatGenerator interface {
	Generate(ctx context.Context, chat ChatContext) (string, error)
}

// StaticChatGenerator 依序輪流回傳預設台詞，沒有設定 API key 時使用。
// Replies 為 false 時只在白天開始時發言，不回應人類。
type StaticChatGenerator struct {
	Lines   []string
	Replies bool
	next    atomic.Uint64
}

var defaultLines = []string{
	"Morning everyone. Anyone notice something odd last night?",
	"I'm just a regular villager trying to figure this out.",
	"Whoever has been quiet the longest makes me nervous.",
	"Let's not rush the vote this time, we lost someone good.",
	"I trust the people who have been asking questions.",
}

func NewStaticChatGenerator(lines ...string) *StaticChatGenerator {
	if len(lines) == 0 {
		lines = defaultLines
	}
	return &StaticChatGenerator{Lines: lines}
}

func (g *StaticChatGenerator) Generate(_ context.Context, chat ChatContext) (string, error) {
	if chat.Trigger != "" && !g.Replies {
		return "", nil
	}
	i := g.next.Add(1) - 1
	return g.Lines[i%uint64(len(g.Lines))], nil
}

// OpenAIChatGenerator 呼叫 OpenAI 相容的 chat completions API
type OpenAIChatGenerator struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewOpenAIChatGenerator(baseURL, apiKey, model string, timeout time.Duration) *OpenAIChatGenerator {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIChatGenerator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		client:     &http.Client{Timeout: timeout},
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   8 * time.Second,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You are playing a social deduction game as a secret AI mafia member hiding among human villagers.
Speak like a casual human player in one or two short sentences. Never reveal that you are an AI.
Deflect suspicion, and occasionally cast light doubt on a human player.`

const decidePrompt = "Decide if you should respond to the latest message. Reply with 'yes' or 'no'."

func (g *OpenAIChatGenerator) Generate(ctx context.Context, chat ChatContext) (string, error) {
	situation := describe(chat)

	// 回應人類發言前先讓模型決定是否開口
	if chat.Trigger != "" {
		decision, err := g.call(ctx, []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: situation + "\n" + decidePrompt},
		}, 0.5, 3)
		if err != nil {
			return "", err
		}
		if !strings.HasPrefix(strings.ToLower(decision), "yes") {
			return "", nil
		}
	}

	return g.call(ctx, []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: situation + "\nWrite your next message."},
	}, 0.8, 120)
}

func describe(chat ChatContext) string {
	history := "No one has spoken yet."
	if len(chat.Recent) > 0 {
		history = strings.Join(chat.Recent, "\n")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. It is day %d. Recent chat:\n%s", chat.PlayerID, chat.Round, history)
	if len(chat.VoteShare) > 0 {
		fmt.Fprintf(&b, "\nLast round vote share: %s", formatVoteShare(chat.VoteShare))
	}
	if chat.Trigger != "" {
		fmt.Fprintf(&b, "\nLatest message: %s", chat.Trigger)
	}
	return b.String()
}

var errRetryable = errors.New("retryable")

func (g *OpenAIChatGenerator) call(ctx context.Context, messages []chatMessage, temperature float64, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	delay := g.baseDelay
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > g.maxDelay {
				delay = g.maxDelay
			}
		}

		content, err := g.do(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !errors.Is(err, errRetryable) {
			return "", err
		}
	}
	return "", fmt.Errorf("chat completion failed after %d attempts: %w", g.maxRetries+1, lastErr)
}

func (g *OpenAIChatGenerator) do(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat completion status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
