package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"prompt-coach/internal/app"
	"prompt-coach/internal/domain"
)

// Core bundles the services the bot gateway reaches through the socket.
type Core struct {
	Quizzes      *app.QuizService
	Challenges   *app.ChallengeService
	QuizSessions *app.SessionRegistry[domain.QuizSession]
	Limiter      app.RateLimiter
}

type WSHandler struct {
	core     Core
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
	now      func() time.Time
}

type handlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

func NewWSHandler(core Core) *WSHandler {
	h := &WSHandler{
		core: core,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
	h.handlers = map[string]handlerFunc{
		"checkRateLimit":   h.checkRateLimit,
		"recordQuiz":       h.recordQuiz,
		"leaderboard":      h.leaderboard,
		"userStats":        h.userStats,
		"createChallenge":  h.createChallenge,
		"submitSolution":   h.submitSolution,
		"activeChallenge":  h.activeChallenge,
		"currentChallenge": h.currentChallenge,
		"solutions":        h.solutions,
		"startQuiz":        h.startQuiz,
		"setQuizSession":   h.setQuizSession,
		"quizSession":      h.quizSession,
		"clearQuizSession": h.clearQuizSession,
		"finishQuiz":       h.finishQuiz,
	}
	return h
}

type inboundMessage struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errBadPayload = errors.New("invalid payload")

// maxMessageSize caps one inbound frame; gorilla closes the connection past it.
const maxMessageSize = 1 << 20

// ServeWS upgrades the gateway connection and answers requests in arrival order.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("ws read ended", "error", err)
			}
			return
		}
		if err := conn.WriteJSON(h.dispatch(r.Context(), inbound)); err != nil {
			slog.Warn("ws write error", "error", err)
			return
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, msg inboundMessage) outboundMessage {
	handler, ok := h.handlers[msg.Type]
	if !ok {
		return outboundMessage{ID: msg.ID, Type: "error", Payload: errorPayload{Code: "unsupported", Message: "unsupported message type"}}
	}
	result, err := handler(ctx, msg.Payload)
	if err != nil {
		return outboundMessage{ID: msg.ID, Type: "error", Payload: toErrorPayload(msg.Type, err)}
	}
	return outboundMessage{ID: msg.ID, Type: "result", Payload: result}
}

func toErrorPayload(op string, err error) errorPayload {
	switch {
	case errors.Is(err, errBadPayload), errors.Is(err, domain.ErrValidation):
		return errorPayload{Code: "invalid", Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return errorPayload{Code: "not_found", Message: err.Error()}
	default:
		slog.Error("gateway request failed", "type", op, "error", err)
		return errorPayload{Code: "internal", Message: "operation failed"}
	}
}

func decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, errBadPayload
	}
	return v, nil
}

type identityPayload struct {
	Feature string `json:"feature"`
	UserID  string `json:"userId"`
	GuildID string `json:"guildId"`
}

type pagePayload struct {
	GuildID     string `json:"guildId"`
	ChallengeID string `json:"challengeId"`
	Page        int    `json:"page"`
	PageSize    int    `json:"pageSize"`
}

type solutionPayload struct {
	ChallengeID string          `json:"challengeId"`
	Solution    domain.Solution `json:"solution"`
}

type finishQuizPayload struct {
	GuildID string `json:"guildId"`
	UserID  string `json:"userId"`
	Score   int    `json:"score"`
}

type startQuizPayload struct {
	GuildID        string `json:"guildId"`
	UserID         string `json:"userId"`
	Category       string `json:"category"`
	TotalQuestions int    `json:"totalQuestions"`
}

func (h *WSHandler) checkRateLimit(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decode[identityPayload](raw)
	if err != nil {
		return nil, err
	}
	allowed := h.core.Limiter.CheckAndConsume(ctx, domain.Feature(p.Feature), p.UserID, p.GuildID)
	return map[string]bool{"allowed": allowed}, nil
}

func (h *WSHandler) recordQuiz(ctx context.Context, raw json.RawMessage) (any, error) {
	result, err := decode[domain.QuizResult](raw)
	if err != nil {
		return nil, err
	}
	id, err := h.core.Quizzes.Record(ctx, result)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"id": id}, nil
}

func (h *WSHandler) leaderboard(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decode[pagePayload](raw)
	if err != nil {
		return nil, err
	}
	return h.core.Quizzes.Leaderboard(ctx, p.GuildID, p.Page, p.PageSize)
}

func (h *WSHandler) userStats(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decode[identityPayload](raw)
	if err != nil {
		return nil, err
	}
	return h.core.Quizzes.UserStats(ctx, p.UserID)
}

func (h *WSHandler) createChallenge(ctx context.Context, raw json.RawMessage) (any, error) {
	challenge, err := decode[domain.Challenge](raw)
	if err != nil {
		return nil, err
	}
	return h.core.Challenges.Create(ctx, challenge)
}

func (h *WSHandler) submitSolution(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decode[solutionPayload](raw)
	if err != nil {
		return nil, err
	}
	if err := h.core.Challenges.SubmitSolution(ctx, p.ChallengeID, p.Solution); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (h *WSHandler) activeChallenge(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decode[pagePayload](raw)
	if err != nil {
		return nil, err
	}
	return h.core.Challenges.Active(ctx, p.GuildID)
}

func (h *WSHandler) currentChallenge(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decode[pagePayload](raw)
	if err != nil {
		return nil, err
	}
	return h.core.Challenges.Current(ctx, p.GuildID)
}

func (h *WSHandler) solutions(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decode[pagePayload](raw)
	if err != nil {
		return nil, err
	}
	return h.core.Challenges.Solutions(ctx, p.ChallengeID, p.Page, p.PageSize)
}

func (h *WSHandler) startQuiz(_ context.Context, raw json.RawMessage) (any, error) {
	p, err := decode[startQuizPayload](raw)
	if err != nil {
		return nil, err
	}
	if p.GuildID == "" || p.UserID == "" || p.TotalQuestions < 1 {
		return nil, fmt.Errorf("%w: guildId, userId and totalQuestions are required", domain.ErrValidation)
	}
	session := domain.NewQuizSession(p.GuildID, p.UserID, p.Category, p.TotalQuestions, h.now())
	h.core.QuizSessions.SetActive(domain.MemberScope(p.GuildID, p.UserID), session)
	return session, nil
}

func (h *WSHandler) setQuizSession(_ context.Context, raw json.RawMessage) (any, error) {
	session, err := decode[domain.QuizSession](raw)
	if err != nil {
		return nil, err
	}
	if session.GuildID == "" || session.UserID == "" {
		return nil, fmt.Errorf("%w: guildId and userId are required", domain.ErrValidation)
	}
	h.core.QuizSessions.SetActive(domain.MemberScope(session.GuildID, session.UserID), session)
	return session, nil
}

func (h *WSHandler) quizSession(_ context.Context, raw json.RawMessage) (any, error) {
	p, err := decode[identityPayload](raw)
	if err != nil {
		return nil, err
	}
	session, ok := h.core.QuizSessions.GetActive(domain.MemberScope(p.GuildID, p.UserID))
	if !ok {
		return nil, fmt.Errorf("no active quiz: %w", domain.ErrNotFound)
	}
	return session, nil
}

func (h *WSHandler) clearQuizSession(_ context.Context, raw json.RawMessage) (any, error) {
	p, err := decode[identityPayload](raw)
	if err != nil {
		return nil, err
	}
	h.core.QuizSessions.Clear(domain.MemberScope(p.GuildID, p.UserID))
	return map[string]bool{"ok": true}, nil
}

// finishQuiz records the member's running quiz with its final score and ends the session.
func (h *WSHandler) finishQuiz(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decode[finishQuizPayload](raw)
	if err != nil {
		return nil, err
	}
	scope := domain.MemberScope(p.GuildID, p.UserID)
	session, ok := h.core.QuizSessions.GetActive(scope)
	if !ok {
		return nil, fmt.Errorf("no active quiz: %w", domain.ErrNotFound)
	}
	session.Score = p.Score
	id, err := h.core.Quizzes.Record(ctx, session.Result(h.now()))
	if err != nil {
		return nil, err
	}
	h.core.QuizSessions.Clear(scope)
	return map[string]int64{"id": id}, nil
}
