package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticChatGeneratorRotates(t *testing.T) {
	g := NewStaticChatGenerator("a", "b")
	ctx := context.Background()
	var got []string
	for i := 0; i < 3; i++ {
		line, err := g.Generate(ctx, ChatContext{})
		require.NoError(t, err)
		got = append(got, line)
	}
	assert.Equal(t, []string{"a", "b", "a"}, got)
	assert.NotEmpty(t, NewStaticChatGenerator().Lines)
}

func newTestGenerator(url string) *OpenAIChatGenerator {
	g := NewOpenAIChatGenerator(url, "test-key", "test-model", time.Second)
	g.baseDelay = time.Millisecond
	g.maxDelay = 5 * time.Millisecond
	return g
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}

func TestOpenAIChatGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "p1: who did it?")

		writeCompletion(w, "  Not me, I was sleeping.  ")
	}))
	defer srv.Close()

	line, err := newTestGenerator(srv.URL).Generate(context.Background(), ChatContext{
		RoomID:   "room-1",
		PlayerID: "ai_mafia_1",
		Round:    1,
		Recent:   []string{"p1: who did it?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Not me, I was sleeping.", line)
}

func TestOpenAIChatGeneratorRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			writeCompletion(w, "third time lucky")
		}
	}))
	defer srv.Close()

	line, err := newTestGenerator(srv.URL).Generate(context.Background(), ChatContext{PlayerID: "ai_mafia_1"})
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", line)
	assert.EqualValues(t, 3, calls.Load())
}

func TestOpenAIChatGeneratorGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestGenerator(srv.URL).Generate(context.Background(), ChatContext{})
	require.Error(t, err)
	assert.EqualValues(t, 4, calls.Load())
}

func TestOpenAIChatGeneratorClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestGenerator(srv.URL).Generate(context.Background(), ChatContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.EqualValues(t, 1, calls.Load())
}

func TestStaticChatGeneratorRepliesOnlyWhenEnabled(t *testing.T) {
	ctx := context.Background()
	g := NewStaticChatGenerator("a")
	line, err := g.Generate(ctx, ChatContext{Trigger: "p1: hi"})
	require.NoError(t, err)
	assert.Empty(t, line)

	g.Replies = true
	line, err = g.Generate(ctx, ChatContext{Trigger: "p1: hi"})
	require.NoError(t, err)
	assert.Equal(t, "a", line)
}

func TestOpenAIChatGeneratorDecidesBeforeReplying(t *testing.T) {
	for _, tc := range []struct {
		decision  string
		wantLine  string
		wantCalls int32
	}{
		{"no", "", 1},
		{"Yes.", "I was home all night.", 2},
	} {
		t.Run(tc.decision, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				var req chatRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Contains(t, req.Messages[1].Content, "Latest message: p1: where were you?")
				assert.Contains(t, req.Messages[1].Content, "p2 100%")
				if req.MaxTokens == 3 {
					writeCompletion(w, tc.decision)
					return
				}
				writeCompletion(w, "I was home all night.")
			}))
			defer srv.Close()

			line, err := newTestGenerator(srv.URL).Generate(context.Background(), ChatContext{
				PlayerID:  "ai_mafia_1",
				Round:     2,
				Recent:    []string{"p1: where were you?"},
				Trigger:   "p1: where were you?",
				VoteShare: map[string]float64{"p2": 1},
			})
			require.NoError(t, err)
			assert.Equal(t, tc.wantLine, line)
			assert.Equal(t, tc.wantCalls, calls.Load())
		})
	}
}
