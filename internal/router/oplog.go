package router

import "log/slog"

// opKind names the mutations spec.md §4.6 enumerates against the routing
// state. The router doesn't persist an actual log (the RWMutex strategy
// makes that unnecessary for correctness), but routing each mutation
// through withWriteOp keeps every write site observable the same way,
// which is what a real op-log would have given us for free.
type opKind string

const (
	opPeerUp          opKind = "peer_up"
	opPeerDown        opKind = "peer_down"
	opApplyUpdate     opKind = "apply_update"
	opRetractRoute    opKind = "retract_route"
	opRemoveRoute     opKind = "remove_route"
	opSelectRoute     opKind = "select_route"
	opSeqNoRequest    opKind = "seqno_request"
	opSourceExpire    opKind = "source_expire"
	opInstallDestKey  opKind = "install_dest_key"
	opSetStaticRoutes opKind = "set_static_routes"
)

// withWriteOp takes the write lock, runs fn, and logs the mutation at debug
// level. Every state mutation in this package goes through here instead of
// touching r.state.mu directly.
func (r *Router) withWriteOp(kind opKind, attrs []slog.Attr, fn func()) {
	r.state.mu.Lock()
	fn()
	r.state.mu.Unlock()

	if r.log.Enabled(nil, slog.LevelDebug) {
		args := make([]any, 0, len(attrs)*2+2)
		args = append(args, slog.String("op", string(kind)))
		for _, a := range attrs {
			args = append(args, a)
		}
		r.log.Debug("routing op applied", args...)
	}
}

// withReadOp takes the read lock for the duration of fn.
func (r *Router) withReadOp(fn func()) {
	r.state.mu.RLock()
	fn()
	r.state.mu.RUnlock()
}
