package streaming

import (
	"encoding/json"
	"time"

	"github.com/finsight-lab/finsight/internal/models"
)

// Event types on the wire.
const (
	EventStatus = "status"
	EventData   = "data"
	EventDone   = "done"
	EventError  = "error"
)

// Pipeline step names carried by status events.
const (
	StepAnalyzingQuery      = "analyzing_query"
	StepRetrievingDocuments = "retrieving_documents"
	StepFetchingFundamental = "fetching_fundamental_data"
	StepFetchingTechnical   = "fetching_technical_data"
	StepFetchingNews        = "fetching_news"
	StepGeneratingAnswer    = "generating_answer"
)

// Event is one streamed message. Body is the marshaled wire payload sent to
// clients verbatim; Seq is assigned by the manager on publish.
type Event struct {
	SessionID string
	Type      string
	Body      []byte
	Timestamp time.Time
	Seq       uint64
}

func newEvent(typ string, body interface{}) Event {
	b, _ := json.Marshal(body)
	return Event{Type: typ, Body: b, Timestamp: time.Now()}
}

// StatusEvent marks entry into a pipeline step.
func StatusEvent(step string) Event {
	return newEvent(EventStatus, struct {
		Type string `json:"type"`
		Step string `json:"step"`
	}{EventStatus, step})
}

// DataEvent carries the tickers recognized during analysis.
func DataEvent(tickers []string) Event {
	if tickers == nil {
		tickers = []string{}
	}
	return newEvent(EventData, struct {
		Type    string   `json:"type"`
		Tickers []string `json:"ticker"`
	}{EventData, tickers})
}

// DoneEvent carries the final answer with tickers and market data.
func DoneEvent(p models.FinalPayload) Event {
	if p.Tickers == nil {
		p.Tickers = []string{}
	}
	return newEvent(EventDone, struct {
		Type string `json:"type"`
		models.FinalPayload
	}{Type: EventDone, FinalPayload: p})
}

// ErrorEvent reports a failed run.
func ErrorEvent(message string) Event {
	return newEvent(EventError, struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{EventError, message})
}
