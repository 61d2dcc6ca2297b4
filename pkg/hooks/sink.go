package hooks

import (
	"context"

	"github.com/flexygent/flexygent/pkg/interaction"
)

// sinkEvents are the run lifecycle events that reach hook scripts. Step and
// per-tool chatter stays out of the shell.
var sinkEvents = map[interaction.EventKind]bool{
	interaction.EventRunStarted:  true,
	interaction.EventRunFinished: true,
	interaction.EventToolDenied:  true,
}

// PortSink adapts a hook manager into an interaction port so lifecycle
// events fire hook scripts. Confirm and Ask keep noop behavior; the sink is
// meant to sit behind the primary port in a Tee.
func PortSink(m *Manager) interaction.Port {
	return &portSink{manager: m}
}

type portSink struct {
	interaction.NoopPort
	manager *Manager
}

// Emit forwards matching events to the manager. Scripts run detached so a
// slow hook never stalls the run that emitted the event.
func (s *portSink) Emit(ev interaction.Event) {
	if s.manager == nil || !sinkEvents[ev.Kind] {
		return
	}

	data := make(map[string]interface{}, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		data[k] = v
	}
	if ev.RunID != "" {
		data["run_id"] = ev.RunID
	}

	go func() {
		if err := s.manager.Trigger(context.Background(), string(ev.Kind), data); err != nil {
			s.manager.logger.Warn().
				Str("event", string(ev.Kind)).
				Err(err).
				Msg("Hook execution failed")
		}
	}()
}
