package transport

// Request is the wire shape of a client-issued request.
//
//	{"type":"request","id":1,"task":"task_start","args":[...],"kwargs":{...}}
type Request struct {
	Type   string         `json:"type"`
	ID     int64          `json:"id"`
	Task   string         `json:"task"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// Response is the wire shape of a server reply to a Request.
//
//	{"type":"response","id":1,"success":true,"response":"pong"}
type Response struct {
	Type     string `json:"type"`
	ID       int64  `json:"id"`
	Success  bool   `json:"success"`
	Response any    `json:"response"`
}

// Event is the wire shape of an unsolicited server push.
//
//	{"type":"event","name":"task.progress.1","data":"..."}
type Event struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Data any    `json:"data"`
}

const (
	envelopeRequest  = "request"
	envelopeResponse = "response"
	envelopeEvent    = "event"
)

const taskPing = "ping"
const taskStart = "task_start"

const unknownCommand = "Unknown command"
