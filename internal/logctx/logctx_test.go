package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandler_AddsGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(New(slog.NewJSONHandler(&buf, nil))).With(slog.String("svc", "lti13d"))

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r-1", Method: "POST", Path: "/lti13/callback"})
	ctx = WithLaunchData(ctx, &LaunchData{ClientID: "client-123"})
	if ld, ok := LaunchDataFrom(ctx); ok {
		ld.DeploymentID = "dep-1"
	} else {
		t.Fatal("launch data missing from context")
	}

	log.InfoContext(ctx, "launch.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if rec["svc"] != "lti13d" {
		t.Fatalf("attrs added with With must survive wrapping: %v", rec)
	}
	req, _ := rec["req"].(map[string]any)
	if req["id"] != "r-1" || req["path"] != "/lti13/callback" {
		t.Fatalf("req group missing: %v", rec)
	}
	ld, _ := rec["launch"].(map[string]any)
	if ld["client_id"] != "client-123" || ld["deployment_id"] != "dep-1" {
		t.Fatalf("launch group missing: %v", rec)
	}
}

func TestHandler_NoContextData(t *testing.T) {
	var buf bytes.Buffer
	slog.New(New(slog.NewJSONHandler(&buf, nil))).Info("plain")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if _, ok := rec["req"]; ok {
		t.Fatalf("unexpected req group: %v", rec)
	}
}
