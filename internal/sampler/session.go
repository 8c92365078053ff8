package sampler

import "errors"

// ErrSessionFinished is returned when answering past the last question.
var ErrSessionFinished = errors.New("quiz session is finished")

// QuizSession walks the sampled questions of one listening quiz.
// It is not safe for concurrent use.
type QuizSession struct {
	QuizID    string
	questions []Question
	index     int
	correct   int
	pending   Pending
	committed bool
}

// NewQuizSession creates a session over the given questions.
func NewQuizSession(quizID string, questions []Question) *QuizSession {
	qs := make([]Question, len(questions))
	copy(qs, questions)
	return &QuizSession{QuizID: quizID, questions: qs, pending: Pending{}}
}

// Empty reports whether there is nothing to study.
func (s *QuizSession) Empty() bool { return len(s.questions) == 0 }

// Questions returns the sampled questions in order.
func (s *QuizSession) Questions() []Question {
	out := make([]Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// Current returns the question to answer next.
func (s *QuizSession) Current() (Question, bool) {
	if s.Finished() {
		return Question{}, false
	}
	return s.questions[s.index], true
}

// Finished reports whether every question was answered.
func (s *QuizSession) Finished() bool { return s.index >= len(s.questions) }

// Answer checks text against the current question, records the outcome and advances.
func (s *QuizSession) Answer(text string) (bool, error) {
	q, ok := s.Current()
	if !ok {
		return false, ErrSessionFinished
	}
	correct := CheckAnswer(q, text)
	s.pending.Record(q.Item.ID, correct)
	if correct {
		s.correct++
	}
	s.index++
	return correct, nil
}

// Progress returns the number of answered questions, the correct ones and the total.
func (s *QuizSession) Progress() (answered, correct, total int) {
	return s.index, s.correct, len(s.questions)
}

// Score returns the percent score of the answers so far.
func (s *QuizSession) Score() (int, error) {
	return ScorePercent(s.correct, s.index)
}

// Pending returns a copy of the weight deltas recorded so far.
func (s *QuizSession) Pending() Pending {
	out := make(Pending, len(s.pending))
	for id, d := range s.pending {
		out[id] = d
	}
	return out
}
