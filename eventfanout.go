package sessiondeck

import (
	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/core"
	"pkt.systems/sessiondeck/schema"
)

type tabFanout struct {
	sinks []core.TabSink
}

func (f tabFanout) OnTabEvent(event schema.TabEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnTabEvent(event)
	}
}

// tabLogSink records tab lifecycle changes at debug level.
type tabLogSink struct {
	log pslog.Logger
}

func (s tabLogSink) OnTabEvent(event schema.TabEvent) {
	s.log.Debug("deck tab event", "type", event.Type, "tab", event.Tab.ID, "kind", event.Tab.Kind, "active", event.ActiveTab)
}

func buildTabSink(logger pslog.Logger, sinks []core.TabSink) core.TabSink {
	out := make([]core.TabSink, 0, len(sinks)+1)
	if logger != nil {
		out = append(out, tabLogSink{log: logger})
	}
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return tabFanout{sinks: out}
	}
}
