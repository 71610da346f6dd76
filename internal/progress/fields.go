package progress

import (
	"encoding/json"
	"strconv"
	"time"
)

// ProgressEntryFields flattens a job snapshot into the string-typed key/value
// form used at the log-append boundary. Optional fields with no value are
// omitted rather than encoded as nulls.
func ProgressEntryFields(job *Job, now time.Time) map[string]string {
	fields := map[string]string{
		"job_id":    job.ID,
		"stage":     string(job.Stage),
		"progress":  strconv.Itoa(job.Progress),
		"timestamp": formatTimestamp(now),
	}
	if job.Message != "" {
		fields["message"] = job.Message
	}
	if job.CurrentItem != "" {
		fields["current_item"] = job.CurrentItem
	}
	if job.Result != nil {
		if data, err := json.Marshal(job.Result); err == nil {
			fields["result"] = string(data)
		}
	}
	if job.Error != "" {
		fields["error"] = job.Error
	}
	return fields
}

// PartialEntryFields builds the fields for a partial-result entry.
func PartialEntryFields(resultType, content string, now time.Time) map[string]string {
	return map[string]string{
		"type":        "partial_result",
		"result_type": resultType,
		"content":     content,
		"timestamp":   formatTimestamp(now),
	}
}

func formatTimestamp(now time.Time) string {
	return strconv.FormatFloat(float64(now.UnixNano())/float64(time.Second), 'f', 6, 64)
}
