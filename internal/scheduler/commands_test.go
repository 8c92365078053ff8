package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danieldreier/studycore/internal/storage"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/leanovate/gopter/gen"
	"go.uber.org/zap"
)

// --- System Under Test Definition ---

type reviewSUT struct {
	dir     string
	clock   *clock
	store   *storage.FileStorage
	svc     *Service
	deckID  string
	session *Session
}

// --- State Definition ---

// reviewModel is the expected state of one deck whose cards are all due.
type reviewModel struct {
	cards     int
	size      int
	completed bool
	levelSum  int
	active    bool
	index     int
	length    int
}

func (m reviewModel) offered() int {
	if m.completed {
		return 0
	}
	return min(m.cards, m.size)
}

type reviewResult struct {
	levelSum int
	due      int
	stats    SessionStats
	err      error
}

func (s *reviewSUT) observe(err error) reviewResult {
	ctx := context.Background()
	res := reviewResult{err: err}
	if res.err != nil {
		return res
	}
	cards, err := s.store.LoadCards(ctx, s.deckID)
	if err != nil {
		return reviewResult{err: err}
	}
	for _, card := range cards {
		res.levelSum += card.SRSLevel
	}
	if res.due, err = s.svc.DueCount(ctx, s.deckID); err != nil {
		return reviewResult{err: err}
	}
	if s.session != nil {
		res.stats = s.session.Stats()
	}
	return res
}

func check(name string, ok bool) *gopter.PropResult {
	return gopter.NewPropResult(ok, name)
}

// postCondition compares the observed store and session with the model.
func postCondition(state commands.State, result commands.Result) *gopter.PropResult {
	m := state.(reviewModel)
	res := result.(reviewResult)
	if res.err != nil {
		return check(fmt.Sprintf("unexpected error: %v", res.err), false)
	}
	if res.levelSum != m.levelSum {
		return check(fmt.Sprintf("level sum: want %d, got %d", m.levelSum, res.levelSum), false)
	}
	if res.due != m.offered() {
		return check(fmt.Sprintf("due count: want %d, got %d", m.offered(), res.due), false)
	}
	if res.stats.Index != m.index || res.stats.Total != m.length {
		return check(fmt.Sprintf("session: want %d/%d, got %d/%d", m.index, m.length, res.stats.Index, res.stats.Total), false)
	}
	return check("ok", true)
}

// --- Commands ---

var startCmd = &commands.ProtoCommand{
	Name: "Start",
	RunFunc: func(sut commands.SystemUnderTest) commands.Result {
		s := sut.(*reviewSUT)
		session, err := s.svc.StartSession(context.Background(), s.deckID)
		s.session = session
		return s.observe(err)
	},
	NextStateFunc: func(state commands.State) commands.State {
		m := state.(reviewModel)
		m.length = m.offered()
		m.index = 0
		m.active = m.length > 0
		return m
	},
	PostConditionFunc: postCondition,
}

func answerCmd(knewIt bool) *commands.ProtoCommand {
	return &commands.ProtoCommand{
		Name: fmt.Sprintf("Answer(knewIt=%v)", knewIt),
		RunFunc: func(sut commands.SystemUnderTest) commands.Result {
			s := sut.(*reviewSUT)
			card, _ := s.session.Current()
			_, err := s.svc.Answer(context.Background(), s.session, card.ID, knewIt)
			return s.observe(err)
		},
		PreConditionFunc: func(state commands.State) bool {
			return state.(reviewModel).active
		},
		NextStateFunc: func(state commands.State) commands.State {
			m := state.(reviewModel)
			if knewIt {
				m.levelSum++
			}
			m.index++
			m.active = m.index < m.length
			return m
		},
		PostConditionFunc: postCondition,
	}
}

var completeCmd = &commands.ProtoCommand{
	Name: "Complete",
	RunFunc: func(sut commands.SystemUnderTest) commands.Result {
		s := sut.(*reviewSUT)
		_, err := s.svc.CompleteSession(context.Background(), s.deckID)
		return s.observe(err)
	},
	NextStateFunc: func(state commands.State) commands.State {
		m := state.(reviewModel)
		m.completed = true
		return m
	},
	PostConditionFunc: postCondition,
}

var resetCmd = &commands.ProtoCommand{
	Name: "Reset",
	RunFunc: func(sut commands.SystemUnderTest) commands.Result {
		s := sut.(*reviewSUT)
		return s.observe(s.svc.ResetDeck(context.Background(), s.deckID))
	},
	NextStateFunc: func(state commands.State) commands.State {
		m := state.(reviewModel)
		m.levelSum = 0
		m.completed = false
		return m
	},
	PostConditionFunc: postCondition,
}

var nextDayCmd = &commands.ProtoCommand{
	Name: "NextDay",
	RunFunc: func(sut commands.SystemUnderTest) commands.Result {
		s := sut.(*reviewSUT)
		s.clock.t = s.clock.t.Add(24 * time.Hour)
		return s.observe(nil)
	},
	NextStateFunc: func(state commands.State) commands.State {
		m := state.(reviewModel)
		m.completed = false
		return m
	},
	PostConditionFunc: postCondition,
}

var reviewCommands = &commands.ProtoCommands{
	NewSystemUnderTestFunc: func(initialState commands.State) commands.SystemUnderTest {
		m := initialState.(reviewModel)
		ctx := context.Background()
		dir, err := os.MkdirTemp("", "review-commands-*")
		if err != nil {
			panic(err)
		}
		c := &clock{t: now}
		store := storage.NewFileStorage(filepath.Join(dir, "study.json"), storage.WithClock(c.Now))
		if err := store.Load(); err != nil {
			panic(err)
		}
		size := m.size
		deck, err := store.CreateDeck(ctx, "Model", storage.DeckSettings{SessionSize: &size})
		if err != nil {
			panic(err)
		}
		for i := 0; i < m.cards; i++ {
			if _, err := store.CreateCard(ctx, deck.ID, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
				panic(err)
			}
		}
		svc := NewService(store, zap.NewNop())
		svc.Now = c.Now
		return &reviewSUT{dir: dir, clock: c, store: store, svc: svc, deckID: deck.ID}
	},
	DestroySystemUnderTestFunc: func(sut commands.SystemUnderTest) {
		os.RemoveAll(sut.(*reviewSUT).dir)
	},
	InitialStateGen: gopter.CombineGens(gen.IntRange(1, 6), gen.IntRange(1, 8)).Map(func(v []interface{}) reviewModel {
		return reviewModel{cards: v[0].(int), size: v[1].(int)}
	}),
	GenCommandFunc: func(state commands.State) gopter.Gen {
		return gen.OneConstOf(startCmd, answerCmd(true), answerCmd(false), completeCmd, resetCmd, nextDayCmd)
	},
}

func TestReviewCommandSequences(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("store and session follow the review model", commands.Prop(reviewCommands))

	properties.TestingRun(t)
}
