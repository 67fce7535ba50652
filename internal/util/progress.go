package util

import (
	"fmt"
	"sync"
	"time"
)

type BuildStage string

const (
	BuildStagePending   BuildStage = "pending"
	BuildStageFetching  BuildStage = "fetching"
	BuildStageChunking  BuildStage = "chunking"
	BuildStageEmbedding BuildStage = "embedding"
	BuildStageReady     BuildStage = "ready"
	BuildStageFailed    BuildStage = "failed"
)

type BuildStepProgress struct {
	Fetching  string `json:"fetching,omitempty"`
	Embedding string `json:"embedding,omitempty"`
}

type BuildProgress struct {
	Stage      BuildStage         `json:"stage"`
	Step       *BuildStepProgress `json:"step,omitempty"`
	Percentage int32              `json:"percentage"`
	ElapsedMs  int64              `json:"elapsed_ms"`
}

const (
	fetchProgressWeight = 50
	chunkProgressWeight = 5
	embedProgressWeight = 100 - fetchProgressWeight - chunkProgressWeight
)

// ProgressTracker records how far the startup index build got. It is
// written by the build goroutine and read by status requests.
type ProgressTracker struct {
	mu sync.Mutex

	stage      BuildStage
	docsDone   int
	docsTotal  int
	segsDone   int
	segsTotal  int
	started    time.Time
	finished   time.Time
	lastResult int32
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{stage: BuildStagePending}
}

func (p *ProgressTracker) SetStage(stage BuildStage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started.IsZero() && stage != BuildStagePending {
		p.started = time.Now()
	}
	if stage == BuildStageFailed {
		p.lastResult = p.percentageLocked()
	}
	if stage == BuildStageReady || stage == BuildStageFailed {
		p.finished = time.Now()
	}
	p.stage = stage
}

func (p *ProgressTracker) SetDocuments(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docsDone, p.docsTotal = done, total
}

func (p *ProgressTracker) SetSegments(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segsDone, p.segsTotal = done, total
}

func (p *ProgressTracker) Snapshot() BuildProgress {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := BuildProgress{
		Stage:      p.stage,
		Percentage: p.percentageLocked(),
	}

	step := BuildStepProgress{}
	hasStep := false
	if p.docsTotal > 0 {
		step.Fetching = fmt.Sprintf("%d/%d", p.docsDone, p.docsTotal)
		hasStep = true
	}
	if p.segsTotal > 0 {
		step.Embedding = fmt.Sprintf("%d/%d", p.segsDone, p.segsTotal)
		hasStep = true
	}
	if hasStep {
		out.Step = &step
	}

	if !p.started.IsZero() {
		end := p.finished
		if end.IsZero() {
			end = time.Now()
		}
		out.ElapsedMs = end.Sub(p.started).Milliseconds()
	}
	return out
}

func (p *ProgressTracker) percentageLocked() int32 {
	if p.stage == BuildStageFailed {
		return p.lastResult
	}
	return CalculateBuildPercentage(p.stage, p.docsDone, p.docsTotal, p.segsDone, p.segsTotal)
}

// CalculateBuildPercentage weights fetching at half of the build since
// paper downloads dominate startup time.
func CalculateBuildPercentage(stage BuildStage, docsDone, docsTotal, segsDone, segsTotal int) int32 {
	switch stage {
	case BuildStageFetching:
		if docsTotal <= 0 {
			return 0
		}
		return int32(min(docsDone, docsTotal) * fetchProgressWeight / docsTotal)
	case BuildStageChunking:
		return fetchProgressWeight
	case BuildStageEmbedding:
		base := int32(fetchProgressWeight + chunkProgressWeight)
		if segsTotal <= 0 {
			return base
		}
		return base + int32(min(segsDone, segsTotal)*embedProgressWeight/segsTotal)
	case BuildStageReady:
		return 100
	default:
		return 0
	}
}
