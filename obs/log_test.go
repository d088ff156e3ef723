package obs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLogEventEmitsJSON(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	LogEvent(map[string]any{"level": "warn", "msg": "catalog drift", "capability_id": "cap-9"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["msg"] != "catalog drift" || entry["capability_id"] != "cap-9" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
