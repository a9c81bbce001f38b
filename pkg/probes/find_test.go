package probes

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFindProcessesIncludesSelf(t *testing.T) {
	pids, err := FindProcesses(context.Background(), filepath.Base(os.Args[0]))
	if err != nil {
		t.Fatalf("FindProcesses failed: %v", err)
	}

	self := int32(os.Getpid())
	for _, pid := range pids {
		if pid == self {
			return
		}
	}
	t.Errorf("Expected own pid %d in %v", self, pids)
}

func TestFindProcessesNoMatch(t *testing.T) {
	pids, err := FindProcesses(context.Background(), "no-such-process-7f3a9c")
	if err != nil {
		t.Fatalf("FindProcesses failed: %v", err)
	}
	for _, pid := range pids {
		if pid == int32(os.Getpid()) {
			t.Errorf("Unexpected self match")
		}
	}
}
