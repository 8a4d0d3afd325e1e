package triggercapture

// TriggerKind distinguishes priming triggers from per-frame triggers.
type TriggerKind int

const (
	// TriggerPre is fired after stream-on to fill the driver pipeline
	TriggerPre TriggerKind = iota
	// TriggerSteady is fired by the frame loop, one per frame
	TriggerSteady
)

func (k TriggerKind) String() string {
	if k == TriggerPre {
		return "pre"
	}
	return "steady"
}

// Observer receives session lifecycle events. Calls are made synchronously
// from the capture goroutine and must not block.
type Observer interface {
	StateChanged(from, to State)
	TriggerFired(kind TriggerKind)
	// FrameCaptured runs after the sink. f.Data is only valid during the call.
	FrameCaptured(f Frame)
	DequeueRetried()
	ReopenVerified(r ReopenResult)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) StateChanged(from, to State)   {}
func (NopObserver) TriggerFired(kind TriggerKind) {}
func (NopObserver) FrameCaptured(f Frame)         {}
func (NopObserver) DequeueRetried()               {}
func (NopObserver) ReopenVerified(r ReopenResult) {}

type multiObserver []Observer

// MultiObserver fans events out to every non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) StateChanged(from, to State) {
	for _, o := range m {
		o.StateChanged(from, to)
	}
}

func (m multiObserver) TriggerFired(kind TriggerKind) {
	for _, o := range m {
		o.TriggerFired(kind)
	}
}

func (m multiObserver) FrameCaptured(f Frame) {
	for _, o := range m {
		o.FrameCaptured(f)
	}
}

func (m multiObserver) DequeueRetried() {
	for _, o := range m {
		o.DequeueRetried()
	}
}

func (m multiObserver) ReopenVerified(r ReopenResult) {
	for _, o := range m {
		o.ReopenVerified(r)
	}
}
