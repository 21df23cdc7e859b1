package database

import (
	"context"
	"strings"
	"testing"
)

func TestOpenRejectsMalformedDSN(t *testing.T) {
	_, err := Open(context.Background(), "host=localhost port=not-a-port")
	if err == nil {
		t.Fatal("Open() with malformed DSN succeeded, want error")
	}
	if !strings.Contains(err.Error(), "parsing connection config") {
		t.Errorf("error = %v, want parse failure", err)
	}
}
