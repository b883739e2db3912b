package dropify

import "github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/model"

// Dispatcher routes decoded events to registered callbacks.
// Callbacks must be registered before events start flowing.
type Dispatcher struct {
	onNewDrop    func(model.Drop)
	onDeleteDrop func(int64)
	onUnknown    func(UnknownEvent)
	onError      func(error)
}

func (d *Dispatcher) SetOnNewDrop(fn func(model.Drop))   { d.onNewDrop = fn }
func (d *Dispatcher) SetOnDeleteDrop(fn func(int64))     { d.onDeleteDrop = fn }
func (d *Dispatcher) SetOnUnknown(fn func(UnknownEvent)) { d.onUnknown = fn }
func (d *Dispatcher) SetOnError(fn func(error))          { d.onError = fn }

func (d *Dispatcher) Dispatch(ev Event) {
	switch ev := ev.(type) {
	case NewDropEvent:
		if d.onNewDrop != nil {
			d.onNewDrop(ev.Drop)
		}
	case DeleteDropEvent:
		if d.onDeleteDrop != nil {
			d.onDeleteDrop(ev.ID)
		}
	case UnknownEvent:
		if d.onUnknown != nil {
			d.onUnknown(ev)
		}
	case MalformedEvent:
		d.fireError(WrapError(ErrorSerialization, "malformed channel message", ev.Err))
	}
}

func (d *Dispatcher) fireError(err error) {
	if d.onError != nil && err != nil {
		d.onError(err)
	}
}
