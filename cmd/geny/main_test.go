package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRunVersionText(t *testing.T) {
	var out bytes.Buffer
	if err := runVersion(&out, "text"); err != nil {
		t.Fatalf("runVersion: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Geny") {
		t.Errorf("version output missing name: %q", got)
	}
	if !strings.Contains(got, "go_version:") {
		t.Errorf("version output missing go version: %q", got)
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := runVersion(&out, "json"); err != nil {
		t.Fatalf("runVersion: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if info["version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRunNoCommandPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: geny") {
		t.Errorf("usage not printed: %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("err = %v", err)
	}
}

func TestRunBadOutputFormat(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-o", "yaml", "version"})
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("err = %v", err)
	}
}

func TestRunAskRequiresMessage(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"ask"})
	if err == nil || !strings.Contains(err.Error(), "usage: geny ask") {
		t.Errorf("err = %v", err)
	}
}

func TestRunExplicitMissingConfig(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-config", "/nonexistent/config.yaml", "serve"})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("err = %v", err)
	}
}
