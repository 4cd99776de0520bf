package cmd

import (
	"errors"
	"testing"

	"headersmanager/core"
	"headersmanager/models"
)

func TestParseSetHeader(t *testing.T) {
	h, err := parseSetHeader("User-Agent:  TestBot/1.0 ")
	if err != nil {
		t.Fatalf("parseSetHeader: %v", err)
	}
	want := models.HeaderDirective{Name: "User-Agent", Operation: models.OperationSet, Value: "TestBot/1.0"}
	if h != want {
		t.Errorf("got %+v, want %+v", h, want)
	}

	h, err = parseSetHeader("X-Forwarded-For: 10.0.0.1:8080")
	if err != nil || h.Value != "10.0.0.1:8080" {
		t.Errorf("value with colon: got %+v, %v", h, err)
	}

	if _, err := parseSetHeader("NoColon"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
