// ABOUTME: Closed message union exchanged between actors.
// ABOUTME: Every inter-actor channel carries exactly one of these variants.

package actor

// Message is the closed set of payloads routable between actors. Using a
// sealed interface keeps dispatch exhaustive: a switch over the variants is
// checkable, and outside packages cannot smuggle in new shapes.
type Message interface {
	isMessage()
}

// TaskStatus reports how a dispatched task finished.
type TaskStatus string

const (
	StatusDone  TaskStatus = "done"
	StatusError TaskStatus = "error"
)

// TaskRequest asks the orchestrator to run raw client text. OriginClient is
// the hub client ID the eventual responses are addressed to.
type TaskRequest struct {
	RawText      string
	OriginClient string
}

// TaskAssignment hands one subtask to the worker. Seq identifies the
// dispatch; the worker echoes it back unchanged in its TaskResult so the
// orchestrator can discard results for abandoned work.
type TaskAssignment struct {
	Seq      uint64
	TaskText string
}

// TaskResult is the worker's report for a single assignment. A Status of
// StatusError is a normal result value, not a transport failure.
type TaskResult struct {
	Seq    uint64
	Status TaskStatus
	Detail string
}

// TaskResponse is a client-facing reply produced by the orchestrator.
// An empty ClientID means the response is broadcast to every connection.
type TaskResponse struct {
	ClientID    string
	Text        string
	OriginAgent string
}

// AnalysisNotice is a narration line from the analysis producer, delivered
// to clients after deduplication.
type AnalysisNotice struct {
	Text        string
	OriginAgent string
}

func (TaskRequest) isMessage()    {}
func (TaskAssignment) isMessage() {}
func (TaskResult) isMessage()     {}
func (TaskResponse) isMessage()   {}
func (AnalysisNotice) isMessage() {}
