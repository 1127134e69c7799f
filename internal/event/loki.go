package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// lokiPushRequest is the Loki push API request body (v1).
type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

// lokiStream is a single stream with labels and log entries.
type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// Loki label values tolerate most characters but we keep them conservative.
var lokiLabelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// eventLabels parses only the fields used for stream labels and timestamp
// from a SecurityEvent JSON payload.
type eventLabels struct {
	OrgID     string `json:"orgId"`
	Action    string `json:"action"`
	Severity  string `json:"severity"`
	Timestamp string `json:"timestamp"`
}

// PushEventToLoki sends one serialized SecurityEvent to Loki, labeling the
// stream by org, action, and severity. Unparseable payloads are pushed raw
// with the current time so nothing is silently dropped.
func PushEventToLoki(ctx context.Context, baseURL string, rawJSON []byte) error {
	labels := map[string]string{}
	ts := time.Now().UTC()
	var fields eventLabels
	if err := json.Unmarshal(rawJSON, &fields); err == nil {
		if fields.OrgID != "" {
			labels["org_id"] = fields.OrgID
		}
		if fields.Action != "" {
			labels["action"] = fields.Action
		}
		if fields.Severity != "" {
			labels["severity"] = fields.Severity
		}
		if fields.Timestamp != "" {
			if t, err := time.Parse(time.RFC3339Nano, fields.Timestamp); err == nil {
				ts = t
			}
		}
	}
	return pushLoki(ctx, baseURL, ts, string(rawJSON), labels)
}

// pushLoki sends a single log line to the Loki push endpoint at baseURL.
func pushLoki(ctx context.Context, baseURL string, timestamp time.Time, line string, labels map[string]string) error {
	if baseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = "truxe-security"
	for k, v := range labels {
		sanitized := lokiLabelSanitize.ReplaceAllString(strings.TrimSpace(v), "_")
		if sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	body := lokiPushRequest{
		Streams: []lokiStream{{
			Stream: streamLabels,
			Values: [][]string{{fmt.Sprintf("%d", timestamp.UnixNano()), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimSuffix(baseURL, "/") + "/loki/api/v1/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
