package eventloop

// Priority orders timers, tasks, and I/O callbacks. Lower numeric value
// means higher priority — it runs, or is served, first.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 10
	PriorityNormal  Priority = 20
	PriorityLow     Priority = 30
	PriorityLowest  Priority = 40
)
