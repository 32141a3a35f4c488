package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// ExportRequestedMessage asks the worker to export one convenio report. The
// job row in SQLite is the source of truth; the message only carries its id.
type ExportRequestedMessage struct {
	JobID      int64     `json:"job_id"`
	ConvenioID int       `json:"convenio_id"`
	Ref        string    `json:"ref"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewExportRequestedMessage(jobID int64, convenioID int, ref string) *ExportRequestedMessage {
	return &ExportRequestedMessage{
		JobID:      jobID,
		ConvenioID: convenioID,
		Ref:        ref,
		Timestamp:  time.Now().UTC(),
	}
}

func (m *ExportRequestedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExportRequestedMessageFromJSON decodes and checks a message body.
func ExportRequestedMessageFromJSON(data []byte) (*ExportRequestedMessage, error) {
	var msg ExportRequestedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.JobID <= 0 {
		return nil, errors.New("export message without job id")
	}
	return &msg, nil
}
