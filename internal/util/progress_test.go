package util

import "testing"

func TestCalculateBuildPercentage(t *testing.T) {
	tests := []struct {
		name      string
		stage     BuildStage
		docsDone  int
		docsTotal int
		segsDone  int
		segsTotal int
		want      int32
	}{
		{name: "pending", stage: BuildStagePending, want: 0},
		{name: "fetching no total", stage: BuildStageFetching, want: 0},
		{name: "fetching half", stage: BuildStageFetching, docsDone: 5, docsTotal: 10, want: 25},
		{name: "fetching overflow clamps", stage: BuildStageFetching, docsDone: 12, docsTotal: 10, want: 50},
		{name: "chunking", stage: BuildStageChunking, docsDone: 10, docsTotal: 10, want: 50},
		{name: "embedding start", stage: BuildStageEmbedding, segsTotal: 100, want: 55},
		{name: "embedding done", stage: BuildStageEmbedding, segsDone: 100, segsTotal: 100, want: 100},
		{name: "ready", stage: BuildStageReady, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateBuildPercentage(tt.stage, tt.docsDone, tt.docsTotal, tt.segsDone, tt.segsTotal)
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestProgressTrackerSnapshot(t *testing.T) {
	p := NewProgressTracker()
	if s := p.Snapshot(); s.Stage != BuildStagePending || s.Step != nil {
		t.Fatalf("unexpected initial snapshot: %+v", s)
	}

	p.SetStage(BuildStageFetching)
	p.SetDocuments(3, 15)
	s := p.Snapshot()
	if s.Step == nil || s.Step.Fetching != "3/15" {
		t.Fatalf("expected fetching step 3/15, got %+v", s.Step)
	}
	if s.Percentage != 10 {
		t.Fatalf("expected 10%%, got %d", s.Percentage)
	}

	p.SetStage(BuildStageEmbedding)
	p.SetSegments(40, 80)
	p.SetStage(BuildStageFailed)
	s = p.Snapshot()
	if s.Stage != BuildStageFailed {
		t.Fatalf("expected failed stage, got %s", s.Stage)
	}
	if s.Percentage != 77 {
		t.Fatalf("expected failed build to keep last percentage 77, got %d", s.Percentage)
	}
}
