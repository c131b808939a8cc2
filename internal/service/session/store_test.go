package session

import (
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/agent-playground/internal/model/turn"
)

type transcriptEntry struct {
	Role    turn.Role
	Content string
	Status  turn.Status
}

func transcript(s *Store) []transcriptEntry {
	out := make([]transcriptEntry, 0, s.Len())
	for _, t := range s.Messages() {
		out = append(out, transcriptEntry{Role: t.Role, Content: t.Content, Status: t.Status})
	}
	return out
}

func requireInvariants(t *testing.T, s *Store) {
	t.Helper()
	active := 0
	streaming := 0
	for _, m := range s.Messages() {
		if m.Status.Active() {
			active++
		}
		if m.Status == turn.StatusStreaming {
			streaming++
		}
	}
	require.LessOrEqual(t, active, 1, "more than one active turn")
	require.LessOrEqual(t, streaming, 1, "more than one streaming turn")
	require.Equal(t, active == 1, s.IsStreaming(), "streaming flag out of sync")
}

func TestAppendUserTurnRejectsBlankText(t *testing.T) {
	s := NewStore()

	for _, text := range []string{"", "   ", "\n\t"} {
		id, ok := s.AppendUserTurn(text)
		require.False(t, ok)
		require.Empty(t, id)
	}
	require.Zero(t, s.Len())
}

func TestAppendUserTurnStoresCompleteTurn(t *testing.T) {
	s := NewStore()

	id, ok := s.AppendUserTurn("hello")
	require.True(t, ok)

	got, found := s.Turn(id)
	require.True(t, found)
	require.Equal(t, turn.RoleUser, got.Role)
	require.Equal(t, "hello", got.Content)
	require.Equal(t, turn.StatusComplete, got.Status)
	require.False(t, s.IsStreaming())
}

func TestBeginAgentTurnRejectsSecondStream(t *testing.T) {
	s := NewStore()

	id, err := s.BeginAgentTurn()
	require.NoError(t, err)
	require.True(t, s.IsStreaming())

	_, err = s.BeginAgentTurn()
	require.True(t, errors.Is(err, ErrInvalidState))
	require.Equal(t, 1, s.Len())

	current, ok := s.StreamingTurn()
	require.True(t, ok)
	require.Equal(t, id, current)
}

func TestBeginExchangeAppendsBothTurnsInOrder(t *testing.T) {
	s := NewStore()
	var kinds []ChangeKind
	s.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })

	id, err := s.BeginExchange("hello")
	require.NoError(t, err)

	require.Equal(t, []ChangeKind{ChangeUserTurnAppended, ChangeAgentTurnBegun}, kinds)
	require.Equal(t, []transcriptEntry{
		{turn.RoleUser, "hello", turn.StatusComplete},
		{turn.RoleAgent, "", turn.StatusPending},
	}, transcript(s))
	current, ok := s.StreamingTurn()
	require.True(t, ok)
	require.Equal(t, id, current)
	requireInvariants(t, s)
}

func TestBeginExchangeWhileStreamingAppendsNothing(t *testing.T) {
	s := NewStore()
	_, err := s.BeginAgentTurn()
	require.NoError(t, err)
	calls := 0
	s.Subscribe(func(Change) { calls++ })

	_, err = s.BeginExchange("hello")
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, []transcriptEntry{{turn.RoleAgent, "", turn.StatusPending}}, transcript(s))
	require.Zero(t, calls)

	_, err = s.BeginExchange("  ")
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 1, s.Len())
}

func TestConcurrentBeginExchangeAdmitsOne(t *testing.T) {
	s := NewStore()

	var admitted atomic.Int32
	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			if _, err := s.BeginExchange("msg"); err == nil {
				admitted.Add(1)
			} else if !errors.Is(err, ErrInvalidState) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), admitted.Load())
	require.Equal(t, 2, s.Len())
	requireInvariants(t, s)
}

func TestAppendFragmentConcatenatesInOrder(t *testing.T) {
	s := NewStore()
	id, err := s.BeginAgentTurn()
	require.NoError(t, err)

	got, _ := s.Turn(id)
	require.Equal(t, turn.StatusPending, got.Status)

	fragments := []string{"The", " quick", " brown", "", " fox"}
	for _, f := range fragments {
		require.NoError(t, s.AppendFragment(id, f))
	}

	got, _ = s.Turn(id)
	require.Equal(t, "The quick brown fox", got.Content)
	require.Equal(t, turn.StatusStreaming, got.Status)
}

func TestAppendFragmentRejectsNonStreamingTurn(t *testing.T) {
	s := NewStore()
	userID, _ := s.AppendUserTurn("hi")

	require.True(t, errors.Is(s.AppendFragment(userID, "x"), ErrInvalidState))
	require.True(t, errors.Is(s.AppendFragment("missing", "x"), ErrInvalidState))

	id, err := s.BeginAgentTurn()
	require.NoError(t, err)
	require.NoError(t, s.FailAgentTurn(id, "boom"))
	require.True(t, errors.Is(s.AppendFragment(id, "late"), ErrInvalidState))

	got, _ := s.Turn(id)
	require.Empty(t, got.Content)
}

func TestCompleteAgentTurnIsIdempotent(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	var notifications atomic.Int32
	s.Subscribe(func(Change) { notifications.Add(1) })

	id, err := s.BeginAgentTurn()
	require.NoError(t, err)
	require.NoError(t, s.AppendFragment(id, "done"))
	require.NoError(t, s.CompleteAgentTurn(id))

	once := s.Messages()
	seen := notifications.Load()

	require.NoError(t, s.CompleteAgentTurn(id))

	if diff := cmp.Diff(once, s.Messages()); diff != "" {
		t.Fatalf("second completion changed state (-once +twice):\n%s", diff)
	}
	require.Equal(t, seen, notifications.Load())
	require.False(t, s.IsStreaming())
}

func TestFailAgentTurnKeepsPartialContent(t *testing.T) {
	s := NewStore()
	id, err := s.BeginAgentTurn()
	require.NoError(t, err)
	require.NoError(t, s.AppendFragment(id, "P"))
	require.NoError(t, s.FailAgentTurn(id, "network interrupted"))

	got, _ := s.Turn(id)
	require.Equal(t, "P", got.Content)
	require.Equal(t, turn.StatusFailed, got.Status)
	require.Equal(t, "network interrupted", got.FailureReason)
	require.False(t, s.IsStreaming())

	require.NoError(t, s.FailAgentTurn(id, "again"))
	got, _ = s.Turn(id)
	require.Equal(t, "network interrupted", got.FailureReason)
}

func TestTerminalTurnsAreFrozen(t *testing.T) {
	s := NewStore()

	done, err := s.BeginAgentTurn()
	require.NoError(t, err)
	require.NoError(t, s.CompleteAgentTurn(done))
	require.True(t, errors.Is(s.FailAgentTurn(done, "late"), ErrInvalidState))

	failed, err := s.BeginAgentTurn()
	require.NoError(t, err)
	require.NoError(t, s.FailAgentTurn(failed, "boom"))
	require.True(t, errors.Is(s.CompleteAgentTurn(failed), ErrInvalidState))

	userID, _ := s.AppendUserTurn("hi")
	require.True(t, errors.Is(s.CompleteAgentTurn(userID), ErrInvalidState))
	require.True(t, errors.Is(s.CompleteAgentTurn("missing"), ErrInvalidState))
}

func TestObserversSeeEveryMutationBeforeReturn(t *testing.T) {
	s := NewStore()

	var kinds []ChangeKind
	var contents []string
	unsubscribe := s.Subscribe(func(c Change) {
		kinds = append(kinds, c.Kind)
		contents = append(contents, c.Turn.Content)
		// Reading from inside the callback must not deadlock.
		require.Equal(t, c.Streaming, s.IsStreaming())
	})

	s.AppendUserTurn("hello")
	require.Len(t, kinds, 1)

	id, err := s.BeginAgentTurn()
	require.NoError(t, err)
	require.NoError(t, s.AppendFragment(id, "Hi"))
	require.Equal(t, []string{"hello", "", "Hi"}, contents)

	require.NoError(t, s.AppendFragment(id, " there"))
	require.NoError(t, s.CompleteAgentTurn(id))

	require.Equal(t, []ChangeKind{
		ChangeUserTurnAppended,
		ChangeAgentTurnBegun,
		ChangeFragmentAppended,
		ChangeFragmentAppended,
		ChangeTurnCompleted,
	}, kinds)
	require.Equal(t, "Hi there", contents[len(contents)-1])

	unsubscribe()
	unsubscribe()
	s.AppendUserTurn("ignored by observer")
	require.Len(t, kinds, 5)
}

func TestRejectedMutationsDoNotNotify(t *testing.T) {
	s := NewStore()
	_, err := s.BeginAgentTurn()
	require.NoError(t, err)

	calls := 0
	s.Subscribe(func(Change) { calls++ })

	_, err = s.BeginAgentTurn()
	require.Error(t, err)
	s.AppendUserTurn("  ")
	require.Error(t, s.AppendFragment("missing", "x"))
	require.Zero(t, calls)
}

type focusCounter struct{ n int }

func (f *focusCounter) Focus() { f.n++ }

func TestFocusHandleBackReference(t *testing.T) {
	first := &focusCounter{}
	s := NewStore(WithFocusHandle(first))
	require.Same(t, first, s.FocusHandle())

	second := &focusCounter{}
	s.SetFocusHandle(second)
	s.FocusHandle().Focus()
	require.Equal(t, 1, second.n)
	require.Zero(t, first.n)
}

func TestConcurrentBeginAgentTurnAdmitsOne(t *testing.T) {
	for round := 0; round < 50; round++ {
		s := NewStore()
		var admitted atomic.Int32

		var g errgroup.Group
		for i := 0; i < 8; i++ {
			g.Go(func() error {
				if _, err := s.BeginAgentTurn(); err == nil {
					admitted.Add(1)
				} else if !errors.Is(err, ErrInvalidState) {
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		require.Equal(t, int32(1), admitted.Load())
		require.Equal(t, 1, s.Len())
		requireInvariants(t, s)
	}
}

func TestInvariantsHoldUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewStore()
	var ids []turn.ID

	for step := 0; step < 2000; step++ {
		switch rng.Intn(6) {
		case 0:
			s.AppendUserTurn("msg")
		case 1:
			if id, err := s.BeginAgentTurn(); err == nil {
				ids = append(ids, id)
			}
		case 2, 3:
			if len(ids) > 0 {
				_ = s.AppendFragment(ids[rng.Intn(len(ids))], "x")
			}
		case 4:
			if len(ids) > 0 {
				_ = s.CompleteAgentTurn(ids[rng.Intn(len(ids))])
			}
		case 5:
			if len(ids) > 0 {
				_ = s.FailAgentTurn(ids[rng.Intn(len(ids))], "random")
			}
		}
		requireInvariants(t, s)
	}
}

func TestScenarioTranscriptShape(t *testing.T) {
	s := NewStore()
	s.AppendUserTurn("hello")
	id, err := s.BeginAgentTurn()
	require.NoError(t, err)
	require.NoError(t, s.AppendFragment(id, "Hi"))
	require.NoError(t, s.AppendFragment(id, " there"))
	require.NoError(t, s.CompleteAgentTurn(id))

	want := []transcriptEntry{
		{Role: turn.RoleUser, Content: "hello", Status: turn.StatusComplete},
		{Role: turn.RoleAgent, Content: "Hi there", Status: turn.StatusComplete},
	}
	if diff := cmp.Diff(want, transcript(s), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("unexpected transcript (-want +got):\n%s", diff)
	}
}
