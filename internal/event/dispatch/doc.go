// Package dispatch provides fault-isolated invocation of event listeners.
//
// # Dispatchers
//
//   - SyncDispatcher: invokes listeners in the caller's goroutine. The bus
//     drains its queue through it on every tick, and its Stats feed the
//     listener counters of the bus stats.
//
//   - AsyncDispatcher: a bounded queue drained by a small worker pool. The
//     journal uses one worker as its ordered database writer, so dispatch
//     hooks never wait on disk.
//
// # Panic Recovery
//
// Every invocation recovers from panics, so one misbehaving listener cannot
// take down the drain loop or the process. Panics are surfaced in the
// Result; AsyncDispatcher also reports them to its PanicHandler.
//
// # Usage
//
//	d := dispatch.NewSyncDispatcher()
//	result := d.Dispatch(ev, func() (any, error) {
//	    return listener.Invoke(ev.Payload, ev)
//	})
//	if !result.IsSuccess() {
//	    // isolate and report
//	}
package dispatch
