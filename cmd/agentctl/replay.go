package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-agent-ctl/agent"
	"trpc.group/trpc-go/trpc-agent-ctl/bus"
	"trpc.group/trpc-go/trpc-agent-ctl/bus/inmemory"
	"trpc.group/trpc-go/trpc-agent-ctl/bus/sqlite"
	"trpc.group/trpc-go/trpc-agent-ctl/controller"
	"trpc.group/trpc-go/trpc-agent-ctl/event"
	"trpc.group/trpc-go/trpc-agent-ctl/memory"
	"trpc.group/trpc-go/trpc-agent-ctl/model"
	"trpc.group/trpc-go/trpc-agent-ctl/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded trajectory's actions through a fresh controller",
	Long: `replay reads every action recorded on the source bus and feeds it
back through a new Controller's Replay Manager: the original actions are
reused verbatim, but each is re-dispatched and re-published through the
normal step path so you can watch how state transitions unfold without
re-invoking the LLM.`,
	RunE: runReplay,
}

// exhaustedStepper is the fallback Stepper used once the replay queue is
// empty: it signals NoAction rather than fabricating a step. The controller
// treats NoAction as transient, records an Error observation and steps
// again, so repeated calls end at the iteration cap or the stuck-loop check.
type exhaustedStepper struct{}

func (exhaustedStepper) Step(context.Context, agent.State) (*event.Event, error) {
	return nil, agent.NewNoActionError("replay queue exhausted")
}
func (exhaustedStepper) Reset(context.Context) error     { return nil }
func (exhaustedStepper) Config() agent.Config            { return agent.Config{} }
func (exhaustedStepper) Metrics() (float64, model.Usage) { return 0, model.Usage{} }

func runReplay(cmd *cobra.Command, args []string) error {
	src, err := sqlite.Open(busPath)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	defer src.Close()

	ctx := context.Background()
	latest, err := src.GetLatestEventID(ctx)
	if err != nil {
		return fmt.Errorf("read latest event id: %w", err)
	}
	recorded, err := src.GetEvents(ctx, 0, latest, false, nil, false)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}

	var actions []*event.Event
	for _, e := range recorded {
		if e.Kind.IsAction() {
			actions = append(actions, e)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "replaying %d recorded action(s)\n", len(actions))

	dst := inmemory.New()
	// The recorded trajectory's own workspace/knowledge subsystem is not
	// replayed, so a null resolver answers the kickoff message's Recall.
	memory.NewNullResolver(dst).Attach(bus.TopicAgentController)
	c, err := controller.New(ctx, controller.Params{
		Agent:     exhaustedStepper{},
		Bus:       dst,
		Limits:    controller.Limits{MaxIterations: len(actions) + 1, MaxBudget: 1e9},
		Replay:    replay.New(actions),
		SessionID: "replay",
		EndID:     -1,
	})
	if err != nil {
		return fmt.Errorf("controller.New: %w", err)
	}
	defer c.Close(ctx, true)

	// A real user message is the only event that both moves the controller
	// into StateRunning and passes ShouldStep, so it is what kicks off
	// replay too: the queued actions then take over from doStep.
	kickoff := event.New(event.SourceUser, event.KindMessage, model.NewUserMessage("resume replay"))
	if _, err := dst.AddEvent(ctx, kickoff, event.SourceUser); err != nil {
		return fmt.Errorf("publish replay kickoff message: %w", err)
	}

	// Give the async step loop a moment to drain the replay queue.
	deadline := time.Now().Add(2 * time.Second)
	for c.GetAgentState() != controller.StateFinished &&
		c.GetAgentState() != controller.StateRejected &&
		c.GetAgentState() != controller.StateError &&
		time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "final state: %s\n", c.GetAgentState())
	return nil
}
