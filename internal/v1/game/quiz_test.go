package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

func quizContext() *Context {
	return &Context{
		RoomCode: "AAAA",
		HostID:   "host-1",
		GameType: GameTypeQuiz,
		Players: map[types.PlayerID]*types.Player{
			"host-1": {ID: "host-1", Name: "Host"},
			"p1":     {ID: "p1", Name: "Alice"},
			"p2":     {ID: "p2", Name: "Bob"},
		},
	}
}

func testQuestions() []QuizQuestion {
	return []QuizQuestion{
		{Prompt: "first", Options: []string{"a", "b", "c"}, Answer: 1},
		{Prompt: "second", Options: []string{"x", "y"}, Answer: 0},
	}
}

func intent(id string, player types.PlayerID, action string, data map[string]any) *types.Intent {
	return &types.Intent{ID: id, PlayerID: player, RoomCode: "AAAA", Action: action, Data: data}
}

func TestQuiz_ValidateSubmitAnswer(t *testing.T) {
	ctx := quizContext()
	q := NewQuiz(testQuestions())
	q.Init(ctx)

	ok, _ := q.Validate(intent("i1", "p1", "submit_answer", map[string]any{"choice": 1}), ctx)
	assert.True(t, ok)

	// Wire decoding yields float64 choices.
	ok, _ = q.Validate(intent("i2", "p1", "submit_answer", map[string]any{"choice": float64(2)}), ctx)
	assert.True(t, ok)

	ok, reason := q.Validate(intent("i3", "p1", "submit_answer", map[string]any{"choice": 3}), ctx)
	assert.False(t, ok)
	assert.Equal(t, "choice out of range", reason)

	ok, _ = q.Validate(intent("i4", "p1", "submit_answer", map[string]any{"choice": -1}), ctx)
	assert.False(t, ok)

	ok, _ = q.Validate(intent("i5", "p1", "submit_answer", nil), ctx)
	assert.False(t, ok)

	// Once revealed, answers are closed.
	q.revealed = true
	ok, reason = q.Validate(intent("i6", "p1", "submit_answer", map[string]any{"choice": 0}), ctx)
	assert.False(t, ok)
	assert.Equal(t, "answers are closed for this question", reason)
}

func TestQuiz_HostOnlyActions(t *testing.T) {
	ctx := quizContext()
	q := NewQuiz(testQuestions())
	q.Init(ctx)

	ok, reason := q.Validate(intent("i1", "p1", "reveal_answer", nil), ctx)
	assert.False(t, ok)
	assert.Equal(t, "only the host can reveal", reason)

	ok, _ = q.Validate(intent("i2", "host-1", "reveal_answer", nil), ctx)
	assert.True(t, ok)

	// Advance requires a preceding reveal.
	ok, reason = q.Validate(intent("i3", "host-1", "next_question", nil), ctx)
	assert.False(t, ok)
	assert.Equal(t, "reveal the answer first", reason)

	q.revealed = true
	ok, _ = q.Validate(intent("i4", "host-1", "next_question", nil), ctx)
	assert.True(t, ok)
	ok, _ = q.Validate(intent("i5", "p2", "next_question", nil), ctx)
	assert.False(t, ok)
}

func TestQuiz_ValidateUnknownAction(t *testing.T) {
	ctx := quizContext()
	q := NewQuiz(testQuestions())
	q.Init(ctx)

	ok, reason := q.Validate(intent("i1", "p1", "draw_card", nil), ctx)
	assert.False(t, ok)
	assert.Contains(t, reason, "draw_card")
}

func TestQuiz_OnIntentDerivesEventIDFromIntent(t *testing.T) {
	ctx := quizContext()
	q := NewQuiz(testQuestions())
	q.Init(ctx)

	first := q.OnIntent(intent("intent-7", "p1", "submit_answer", map[string]any{"choice": 1}), ctx)
	require.True(t, first.Success)
	assert.Equal(t, "evt-intent-7", first.EventID)
	assert.Equal(t, "answer_submitted", first.EventType)

	// A retry of the same intent produces the identical result.
	retry := q.OnIntent(intent("intent-7", "p1", "submit_answer", map[string]any{"choice": 1}), ctx)
	assert.Equal(t, first, retry)
}

func TestQuiz_RevealCarriesRoundComplete(t *testing.T) {
	ctx := quizContext()
	q := NewQuiz(testQuestions())
	q.Init(ctx)

	res := q.OnIntent(intent("i1", "host-1", "reveal_answer", nil), ctx)
	require.True(t, res.Success)
	assert.Equal(t, "answer_revealed", res.EventType)
	assert.Equal(t, true, res.EventData["roundComplete"])
	assert.Equal(t, 1, res.EventData["answer"])
}

func TestQuiz_AdvanceSignalsFinishedOnLastQuestion(t *testing.T) {
	ctx := quizContext()
	q := NewQuiz(testQuestions())
	q.Init(ctx)
	q.revealed = true

	res := q.OnIntent(intent("i1", "host-1", "next_question", nil), ctx)
	require.True(t, res.Success)
	assert.Equal(t, false, res.EventData["finished"])
	assert.Equal(t, true, res.EventData["roundAdvance"])

	q.index = 1
	res = q.OnIntent(intent("i2", "host-1", "next_question", nil), ctx)
	require.True(t, res.Success)
	assert.Equal(t, true, res.EventData["finished"])
	assert.Equal(t, false, res.EventData["roundAdvance"])
}

func TestQuiz_ApplyRevealIsIdempotent(t *testing.T) {
	ctx := quizContext()
	q := NewQuiz(testQuestions())
	q.Init(ctx)

	q.ApplyEvent(&types.Event{Type: "answer_submitted", Data: map[string]any{"playerId": "p1", "question": 0, "choice": 1}}, ctx)
	q.ApplyEvent(&types.Event{Type: "answer_submitted", Data: map[string]any{"playerId": "p2", "question": 0, "choice": 2}}, ctx)

	reveal := &types.Event{Type: "answer_revealed", Data: map[string]any{"question": 0, "answer": 1}}
	q.ApplyEvent(reveal, ctx)
	assert.Equal(t, quizCorrectPoints, ctx.Players["p1"].Score)
	assert.Zero(t, ctx.Players["p2"].Score)

	// A replayed reveal must not double-award.
	q.ApplyEvent(reveal, ctx)
	assert.Equal(t, quizCorrectPoints, ctx.Players["p1"].Score)
}

func TestQuiz_ApplyAdvanceResetsAnswers(t *testing.T) {
	ctx := quizContext()
	q := NewQuiz(testQuestions())
	q.Init(ctx)

	q.ApplyEvent(&types.Event{Type: "answer_submitted", Data: map[string]any{"playerId": "p1", "question": 0, "choice": 1}}, ctx)
	q.ApplyEvent(&types.Event{Type: "answer_revealed", Data: map[string]any{"question": 0, "answer": 1}}, ctx)
	q.ApplyEvent(&types.Event{Type: "question_advanced", Data: map[string]any{"question": 1}}, ctx)

	assert.Equal(t, 1, q.index)
	assert.False(t, q.revealed)
	assert.Empty(t, q.answers)
}

func TestQuiz_SerializeStateHidesAnswerFromPlayers(t *testing.T) {
	ctx := quizContext()
	q := NewQuiz(testQuestions())
	q.Init(ctx)
	q.answers["p1"] = 1

	playerView := q.SerializeState(ctx, "p1")
	question := playerView["question"].(map[string]any)
	_, hasAnswer := question["answer"]
	assert.False(t, hasAnswer, "players must not see the answer before reveal")
	assert.Equal(t, 1, playerView["yourChoice"])

	hostView := q.SerializeState(ctx, "host-1")
	assert.Equal(t, 1, hostView["question"].(map[string]any)["answer"])

	q.revealed = true
	playerView = q.SerializeState(ctx, "p2")
	assert.Equal(t, 1, playerView["question"].(map[string]any)["answer"])
	_, hasChoice := playerView["yourChoice"]
	assert.False(t, hasChoice)

	counts := playerView["answerCounts"].([]any)
	assert.Equal(t, []any{0, 1, 0}, counts)
}

func TestQuiz_SerializeStateBroadcastHidesAnswerWhenHostless(t *testing.T) {
	ctx := quizContext()
	ctx.HostID = ""
	q := NewQuiz(testQuestions())
	q.Init(ctx)

	// Broadcast serialization uses the empty player id; an empty HostID
	// (host seat vacant) must not make it match.
	broadcast := q.SerializeState(ctx, "")
	question := broadcast["question"].(map[string]any)
	_, hasAnswer := question["answer"]
	assert.False(t, hasAnswer, "broadcast state must not carry the unrevealed answer")

	q.revealed = true
	broadcast = q.SerializeState(ctx, "")
	assert.Equal(t, 1, broadcast["question"].(map[string]any)["answer"])
}

func TestQuiz_SerializeStateFinished(t *testing.T) {
	ctx := quizContext()
	q := NewQuiz(testQuestions())
	q.Init(ctx)
	q.index = len(q.questions)

	state := q.SerializeState(ctx, "")
	assert.Equal(t, true, state["finished"])
	_, hasQuestion := state["question"]
	assert.False(t, hasQuestion)
}

func TestQuiz_MigratePlayer(t *testing.T) {
	ctx := quizContext()
	q := NewQuiz(testQuestions())
	q.Init(ctx)
	q.answers["old-id"] = 2

	q.MigratePlayer("old-id", "new-id")

	assert.NotContains(t, q.answers, types.PlayerID("old-id"))
	assert.Equal(t, 2, q.answers["new-id"])
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Contains(t, r.Types(), GameTypeQuiz)

	p, err := r.Create(GameTypeQuiz)
	require.NoError(t, err)
	assert.IsType(t, &Quiz{}, p)

	_, err = r.Create("poker")
	assert.Error(t, err)
}
