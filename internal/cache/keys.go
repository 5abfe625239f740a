package cache

// Key schemes shared by the user record store, the write-behind syncer
// and the flow state machine.

// UserKey is the hash key holding the cached record for one user.
func UserKey(waid string) string {
	return "waid:" + waid
}

// FlowKey is the hash key holding the state of one (flow, user) pair.
func FlowKey(flow, waid string) string {
	return flow + ":" + waid
}

// FlowPattern matches every key of the named flow, for supervisor scans.
func FlowPattern(flow string) string {
	return flow + ":*"
}
