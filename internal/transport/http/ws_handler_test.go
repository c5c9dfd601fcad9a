package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"prompt-coach/internal/app"
	"prompt-coach/internal/domain"
	"prompt-coach/internal/infra/memory"
)

func TestWebSocketQuizFlow(t *testing.T) {
	conn := dialTestServer(t)
	defer conn.Close()

	resp := roundTrip(t, conn, "1", "checkRateLimit", map[string]any{"feature": "quiz", "userId": "u1", "guildId": "g1"})
	if resp.Type != "result" || resp.Payload["allowed"] != true {
		t.Fatalf("expected allowed result, got %+v", resp)
	}

	resp = roundTrip(t, conn, "2", "recordQuiz", map[string]any{
		"userId": "u1", "guildId": "g1", "category": "basics", "score": 4, "totalQuestions": 3,
	})
	if resp.Type != "error" || resp.Payload["code"] != "invalid" {
		t.Fatalf("expected invalid error for score above total, got %+v", resp)
	}

	resp = roundTrip(t, conn, "3", "recordQuiz", map[string]any{
		"userId": "u1", "guildId": "g1", "category": "basics", "score": 2, "totalQuestions": 3,
	})
	if resp.Type != "result" || resp.ID != "3" {
		t.Fatalf("expected result for id 3, got %+v", resp)
	}

	var board struct {
		Type    string                    `json:"type"`
		Payload []domain.LeaderboardEntry `json:"payload"`
	}
	send(t, conn, "4", "leaderboard", map[string]any{"guildId": "g1", "page": 1, "pageSize": 10})
	readInto(t, conn, &board)
	if board.Type != "result" || len(board.Payload) != 1 || board.Payload[0].UserID != "u1" {
		t.Fatalf("expected single leaderboard entry for u1, got %+v", board)
	}
}

func TestWebSocketChallengeFlow(t *testing.T) {
	conn := dialTestServer(t)
	defer conn.Close()

	resp := roundTrip(t, conn, "1", "activeChallenge", map[string]any{"guildId": "g1"})
	if resp.Type != "error" || resp.Payload["code"] != "not_found" {
		t.Fatalf("expected not_found before any challenge, got %+v", resp)
	}

	resp = roundTrip(t, conn, "2", "createChallenge", map[string]any{
		"guildId": "g1", "title": "Clear Prompt", "description": "Write a clear prompt", "category": "clarity",
		"tips": []string{"be specific"},
	})
	if resp.Type != "result" {
		t.Fatalf("expected challenge created, got %+v", resp)
	}
	challengeID, _ := resp.Payload["id"].(string)
	if challengeID == "" {
		t.Fatalf("expected challenge id, got %+v", resp.Payload)
	}

	resp = roundTrip(t, conn, "3", "submitSolution", map[string]any{
		"challengeId": "missing", "solution": map[string]any{"userId": "u1", "solution": "my prompt"},
	})
	if resp.Type != "error" || resp.Payload["code"] != "not_found" {
		t.Fatalf("expected not_found for unknown challenge, got %+v", resp)
	}

	resp = roundTrip(t, conn, "4", "submitSolution", map[string]any{
		"challengeId": challengeID, "solution": map[string]any{"userId": "u1", "username": "alice", "solution": "my prompt"},
	})
	if resp.Type != "result" {
		t.Fatalf("expected solution accepted, got %+v", resp)
	}

	resp = roundTrip(t, conn, "5", "currentChallenge", map[string]any{"guildId": "g1"})
	if resp.Type != "result" || resp.Payload["id"] != challengeID {
		t.Fatalf("expected current challenge %s, got %+v", challengeID, resp)
	}
}

func TestWebSocketQuizSessions(t *testing.T) {
	conn := dialTestServer(t)
	defer conn.Close()

	resp := roundTrip(t, conn, "1", "startQuiz", map[string]any{"guildId": "g1", "userId": "u1", "category": "basics", "totalQuestions": 3})
	if resp.Type != "result" || resp.Payload["id"] == "" {
		t.Fatalf("expected started session, got %+v", resp)
	}

	resp = roundTrip(t, conn, "2", "quizSession", map[string]any{"guildId": "g1", "userId": "u1"})
	if resp.Type != "result" || resp.Payload["category"] != "basics" {
		t.Fatalf("expected active session, got %+v", resp)
	}

	resp = roundTrip(t, conn, "3", "finishQuiz", map[string]any{"guildId": "g1", "userId": "u1", "score": 5})
	if resp.Type != "error" || resp.Payload["code"] != "invalid" {
		t.Fatalf("expected score above total rejected, got %+v", resp)
	}
	resp = roundTrip(t, conn, "4", "finishQuiz", map[string]any{"guildId": "g1", "userId": "u1", "score": 2})
	if resp.Type != "result" {
		t.Fatalf("expected quiz recorded, got %+v", resp)
	}
	resp = roundTrip(t, conn, "5", "quizSession", map[string]any{"guildId": "g1", "userId": "u1"})
	if resp.Type != "error" || resp.Payload["code"] != "not_found" {
		t.Fatalf("expected session ended after finish, got %+v", resp)
	}

	roundTrip(t, conn, "6", "setQuizSession", map[string]any{"guildId": "g1", "userId": "u1", "category": "style", "totalQuestions": 2})
	roundTrip(t, conn, "7", "clearQuizSession", map[string]any{"guildId": "g1", "userId": "u1"})
	resp = roundTrip(t, conn, "8", "quizSession", map[string]any{"guildId": "g1", "userId": "u1"})
	if resp.Type != "error" || resp.Payload["code"] != "not_found" {
		t.Fatalf("expected not_found after clear, got %+v", resp)
	}

	resp = roundTrip(t, conn, "9", "bogus", map[string]any{})
	if resp.Type != "error" || resp.Payload["code"] != "unsupported" {
		t.Fatalf("expected unsupported, got %+v", resp)
	}
}

func TestWebSocketRejectsOversizedMessage(t *testing.T) {
	conn := dialTestServer(t)
	defer conn.Close()

	resp := roundTrip(t, conn, "1", "checkRateLimit", map[string]any{"feature": "quiz", "userId": "u1", "guildId": "g1"})
	if resp.Type != "result" {
		t.Fatalf("expected result before oversized frame, got %+v", resp)
	}

	send(t, conn, "2", "recordQuiz", map[string]any{"userId": strings.Repeat("x", maxMessageSize), "guildId": "g1"})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var after response
	err := conn.ReadJSON(&after)
	if err == nil {
		t.Fatalf("expected connection closed after oversized frame, got %+v", after)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatalf("expected server to drop the connection, read timed out: %v", err)
	}
}

type response struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func dialTestServer(t *testing.T) *websocket.Conn {
	t.Helper()
	cache := memory.NewCache()
	core := Core{
		Quizzes:      app.NewQuizService(memory.NewQuizHistory(), cache, 5*24*time.Hour, time.Minute),
		Challenges:   app.NewChallengeService(memory.NewChallengeStore(), cache, app.NewSessionRegistry[domain.Challenge]("challenges", 24*time.Hour, time.Hour), 24*time.Hour, time.Minute),
		QuizSessions: app.NewSessionRegistry[domain.QuizSession]("quizzes", 24*time.Hour, time.Hour),
		Limiter:      app.AllowAll{},
	}
	wsHandler := NewWSHandler(core)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, id, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"id": id, "type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readInto(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read json: %v", err)
	}
}

func roundTrip(t *testing.T, conn *websocket.Conn, id, typ string, payload any) response {
	t.Helper()
	send(t, conn, id, typ, payload)
	var resp response
	readInto(t, conn, &resp)
	return resp
}
