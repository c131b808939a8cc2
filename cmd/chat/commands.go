package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-playground/internal/service/ingest"
	"github.com/zhouzirui/agent-playground/internal/service/session"
	"github.com/zhouzirui/agent-playground/internal/service/submit"
	"github.com/zhouzirui/agent-playground/internal/tui"
)

func runTUI(ctx context.Context, o *options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	be, closeBackend, err := newBackend(ctx, o)
	if err != nil {
		return err
	}
	defer closeBackend()

	bridge := tui.NewBridge()
	store := session.NewStore(session.WithFocusHandle(bridge))
	unsubscribe := store.Subscribe(bridge.Observe)
	defer unsubscribe()

	selection := submit.NewSelection(o.agentID)
	coord := submit.New(store, ingest.New(store, be), selection,
		submit.WithInput(bridge),
		submit.WithNotifier(bridge),
	)

	model := tui.New(ctx, tui.Config{
		Store:       store,
		Coordinator: coord,
		Selection:   selection,
		Agents:      be,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	bridge.Attach(p)

	if _, err := p.Run(); err != nil {
		return errors.Wrap(err, "run chat screen")
	}
	log.Info().Int("turns", store.Len()).Msg("chat screen closed")
	return nil
}

func runSend(ctx context.Context, o *options, out io.Writer, args []string) error {
	text := strings.Join(args, " ")

	be, closeBackend, err := newBackend(ctx, o)
	if err != nil {
		return err
	}
	defer closeBackend()

	agentID, err := resolveAgent(ctx, be, o.agentID)
	if err != nil {
		return err
	}

	store := session.NewStore()
	unsubscribe := store.Subscribe(func(c session.Change) {
		if c.Kind == session.ChangeFragmentAppended {
			fmt.Fprint(out, c.Fragment)
		}
	})
	defer unsubscribe()

	var (
		mu      sync.Mutex
		failure string
	)
	coord := submit.New(store, ingest.New(store, be), submit.NewSelection(agentID),
		submit.WithNotifier(submit.NotifierFunc(func(message string) {
			mu.Lock()
			failure = message
			mu.Unlock()
		})),
	)

	outcome := coord.Submit(ctx, text)
	fmt.Fprintln(out)

	switch outcome {
	case submit.OutcomeCompleted:
		return nil
	case submit.OutcomeFailed:
		mu.Lock()
		defer mu.Unlock()
		return errors.New(failure)
	default:
		return errors.New("message was not submitted")
	}
}

func runAgents(ctx context.Context, o *options, out io.Writer) error {
	be, closeBackend, err := newBackend(ctx, o)
	if err != nil {
		return err
	}
	defer closeBackend()

	agents, err := be.ListAgents(ctx)
	if err != nil {
		return errors.Wrap(err, "list agents")
	}
	for _, a := range agents {
		fmt.Fprintf(out, "%-20s %-24s %s\n", a.ID, a.Name, a.Role)
	}
	return nil
}
