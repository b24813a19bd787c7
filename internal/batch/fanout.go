package batch

import "github.com/muurk/camstage/internal/provision"

// Fanout delivers each event to every consumer in order. Nil consumers are
// skipped.
func Fanout(consumers ...provision.Emitter) provision.Emitter {
	var live []provision.Emitter
	for _, c := range consumers {
		if c != nil {
			live = append(live, c)
		}
	}
	return func(ev provision.Event) {
		for _, c := range live {
			c(ev)
		}
	}
}
