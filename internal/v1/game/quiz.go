package game

import (
	"fmt"

	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// GameTypeQuiz is the built-in multiple-choice quiz game.
const GameTypeQuiz types.GameType = "quiz"

const quizCorrectPoints = 100

// QuizQuestion is one multiple-choice question. Answer indexes Options.
type QuizQuestion struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Answer  int      `json:"answer"`
}

// Quiz runs a fixed question list: players submit a choice, the host reveals
// the answer and advances. All hooks run on the room loop, so no locking.
type Quiz struct {
	questions []QuizQuestion
	index     int
	revealed  bool
	answers   map[types.PlayerID]int
	awarded   map[int]bool // question index → points already handed out
	cancels   []func()
}

// NewQuiz creates a quiz over the given questions.
func NewQuiz(questions []QuizQuestion) *Quiz {
	return &Quiz{
		questions: questions,
		answers:   make(map[types.PlayerID]int),
		awarded:   make(map[int]bool),
	}
}

// DefaultQuizQuestions is the stock question set used when a room does not
// supply its own.
func DefaultQuizQuestions() []QuizQuestion {
	return []QuizQuestion{
		{Prompt: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars", "Jupiter", "Mercury"}, Answer: 1},
		{Prompt: "What is the largest ocean on Earth?", Options: []string{"Atlantic", "Indian", "Arctic", "Pacific"}, Answer: 3},
		{Prompt: "How many sides does a hexagon have?", Options: []string{"five", "six", "seven", "eight"}, Answer: 1},
	}
}

func (q *Quiz) Init(ctx *Context) {
	q.index = 0
	q.revealed = false
	q.answers = make(map[types.PlayerID]int)
	q.awarded = make(map[int]bool)
}

func (q *Quiz) Validate(intent *types.Intent, ctx *Context) (bool, string) {
	switch intent.Action {
	case "submit_answer":
		if q.index >= len(q.questions) {
			return false, "no active question"
		}
		if q.revealed {
			return false, "answers are closed for this question"
		}
		choice, ok := intChoice(intent.Data["choice"])
		if !ok || choice < 0 || choice >= len(q.questions[q.index].Options) {
			return false, "choice out of range"
		}
		return true, ""
	case "reveal_answer":
		if intent.PlayerID != ctx.HostID {
			return false, "only the host can reveal"
		}
		if q.index >= len(q.questions) || q.revealed {
			return false, "nothing to reveal"
		}
		return true, ""
	case "next_question":
		if intent.PlayerID != ctx.HostID {
			return false, "only the host can advance"
		}
		if !q.revealed {
			return false, "reveal the answer first"
		}
		return true, ""
	default:
		return false, fmt.Sprintf("unknown action %q", intent.Action)
	}
}

func (q *Quiz) OnIntent(intent *types.Intent, ctx *Context) *IntentResult {
	// Event ids derive from the intent id so a retried intent resolves to
	// the same event.
	eventID := "evt-" + intent.ID

	switch intent.Action {
	case "submit_answer":
		choice, _ := intChoice(intent.Data["choice"])
		return &IntentResult{
			Success:   true,
			IntentID:  intent.ID,
			EventID:   eventID,
			EventType: "answer_submitted",
			EventData: map[string]any{
				"playerId": string(intent.PlayerID),
				"question": q.index,
				"choice":   choice,
			},
		}
	case "reveal_answer":
		return &IntentResult{
			Success:   true,
			IntentID:  intent.ID,
			EventID:   eventID,
			EventType: "answer_revealed",
			EventData: map[string]any{
				"question":      q.index,
				"answer":        q.questions[q.index].Answer,
				"roundComplete": true,
			},
		}
	case "next_question":
		return &IntentResult{
			Success:   true,
			IntentID:  intent.ID,
			EventID:   eventID,
			EventType: "question_advanced",
			EventData: map[string]any{
				"question":     q.index + 1,
				"finished":     q.index+1 >= len(q.questions),
				"roundAdvance": q.index+1 < len(q.questions),
			},
		}
	default:
		return &IntentResult{
			Success:   false,
			IntentID:  intent.ID,
			ErrorCode: "VALIDATION_FAILED",
			ErrorMsg:  fmt.Sprintf("unknown action %q", intent.Action),
		}
	}
}

func (q *Quiz) ApplyEvent(event *types.Event, ctx *Context) {
	switch event.Type {
	case "answer_submitted":
		player := types.PlayerID(asString(event.Data["playerId"]))
		if choice, ok := intChoice(event.Data["choice"]); ok {
			q.answers[player] = choice
		}
	case "answer_revealed":
		idx, _ := intChoice(event.Data["question"])
		q.revealed = true
		if q.awarded[idx] {
			return // replayed event, points already granted
		}
		q.awarded[idx] = true
		answer, _ := intChoice(event.Data["answer"])
		for id, choice := range q.answers {
			if choice != answer {
				continue
			}
			if p, ok := ctx.Players[id]; ok {
				p.Score += quizCorrectPoints
			}
		}
	case "question_advanced":
		if idx, ok := intChoice(event.Data["question"]); ok {
			q.index = idx
		}
		q.revealed = false
		q.answers = make(map[types.PlayerID]int)
	}
}

// SerializeState produces the quiz view. The correct answer is visible only
// to the host or after reveal; a player sees their own choice.
func (q *Quiz) SerializeState(ctx *Context, forPlayer types.PlayerID) map[string]any {
	state := map[string]any{
		"game":           string(GameTypeQuiz),
		"questionIndex":  q.index,
		"totalQuestions": len(q.questions),
		"revealed":       q.revealed,
		"finished":       q.index >= len(q.questions),
	}

	if q.index < len(q.questions) {
		current := q.questions[q.index]
		question := map[string]any{
			"prompt":  current.Prompt,
			"options": append([]string(nil), current.Options...),
		}
		if q.revealed || (forPlayer != "" && forPlayer == ctx.HostID) {
			question["answer"] = current.Answer
		}
		state["question"] = question

		counts := make([]any, len(current.Options))
		for i := range counts {
			counts[i] = 0
		}
		for _, choice := range q.answers {
			if choice >= 0 && choice < len(counts) {
				counts[choice] = counts[choice].(int) + 1
			}
		}
		state["answerCounts"] = counts
	}

	if forPlayer != "" {
		if choice, ok := q.answers[forPlayer]; ok {
			state["yourChoice"] = choice
		}
	}
	return state
}

func (q *Quiz) RenderDescriptor() map[string]any {
	return map[string]any{
		"layout":       "question-board",
		"showTimer":    false,
		"optionStyle":  "grid",
		"revealEffect": "flip",
	}
}

func (q *Quiz) MigratePlayer(oldID, newID types.PlayerID) {
	if choice, ok := q.answers[oldID]; ok {
		delete(q.answers, oldID)
		q.answers[newID] = choice
	}
}

func (q *Quiz) Cleanup() {
	for _, cancel := range q.cancels {
		cancel()
	}
	q.cancels = nil
	q.answers = make(map[types.PlayerID]int)
}

func intChoice(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
