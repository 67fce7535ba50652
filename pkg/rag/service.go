// Package rag wires fetching, chunking, indexing and answer synthesis into
// a question answering service with a single startup build.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/OFFIS-RIT/paperqa/backend/internal/util"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/chunk"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/common"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/index"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/store"
)

type State int32

const (
	StateUninitialized State = iota
	StateBuilding
	StateReady
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrNotReady       = errors.New("service is not ready")
	ErrAlreadyBuilt   = errors.New("index has already been built")
	ErrStopped        = errors.New("service was stopped")
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrMissingDepends = errors.New("fetcher, embedder, store and synthesizer are required")
)

const (
	StageFetch    = "fetch"
	StageChunk    = "chunk"
	StageIndex    = "index"
	StageRetrieve = "retrieve"
	StageGenerate = "generate"
)

// BuildError reports which build stage failed.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed at %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// AskError reports which stage of answering a question failed.
type AskError struct {
	Stage string
	Err   error
}

func (e *AskError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *AskError) Unwrap() error {
	return e.Err
}

type Fetcher interface {
	Fetch(ctx context.Context, query string, maxResults int) ([]common.Document, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string, segments []common.Segment) (string, error)
}

type BuildConfig struct {
	Query      string
	MaxResults int
	ChunkSize  int
	Overlap    int
}

// Status is a point-in-time view for health and status endpoints.
type Status struct {
	State      State              `json:"state"`
	Progress   util.BuildProgress `json:"progress"`
	Segments   int                `json:"segments"`
	Dimensions int                `json:"dimensions"`
	Model      string             `json:"model,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Service answers questions once its index is built. Build runs at most
// once per Service; Ask is safe for concurrent use.
type Service struct {
	fetcher   Fetcher
	embedder  index.Embedder
	store     store.VectorStore
	answerer  Answerer
	topK      int
	indexOpts []index.BuildOption
	progress  *util.ProgressTracker

	state   atomic.Int32
	started atomic.Bool
	idx     atomic.Pointer[index.Index]

	errMu    sync.Mutex
	buildErr error
}

type ServiceOption func(*Service)

func WithTopK(k int) ServiceOption {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

func WithIndexOptions(opts ...index.BuildOption) ServiceOption {
	return func(s *Service) {
		s.indexOpts = append(s.indexOpts, opts...)
	}
}

// WithProgressTracker shares a tracker with other components, typically
// the fetcher's progress callback.
func WithProgressTracker(p *util.ProgressTracker) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.progress = p
		}
	}
}

func NewService(
	fetcher Fetcher,
	embedder index.Embedder,
	vs store.VectorStore,
	answerer Answerer,
	opts ...ServiceOption,
) (*Service, error) {
	if fetcher == nil || embedder == nil || vs == nil || answerer == nil {
		return nil, ErrMissingDepends
	}
	s := &Service{
		fetcher:  fetcher,
		embedder: embedder,
		store:    vs,
		answerer: answerer,
		topK:     index.DefaultTopK,
		progress: util.NewProgressTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) State() State {
	return State(s.state.Load())
}

func (s *Service) Ready() bool {
	return s.State() == StateReady
}

// Build fetches papers for cfg.Query, splits them and builds the index.
// Only the first call does any work; later calls get ErrAlreadyBuilt.
func (s *Service) Build(ctx context.Context, cfg BuildConfig) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyBuilt
	}
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateBuilding)) {
		return ErrNotReady
	}

	idx, err := s.build(ctx, cfg)
	if err != nil {
		s.errMu.Lock()
		s.buildErr = err
		s.errMu.Unlock()
		s.progress.SetStage(util.BuildStageFailed)
		s.state.CompareAndSwap(int32(StateBuilding), int32(StateFailed))
		return err
	}

	s.idx.Store(idx)
	if !s.state.CompareAndSwap(int32(StateBuilding), int32(StateReady)) {
		return ErrStopped
	}
	s.progress.SetStage(util.BuildStageReady)
	logger.Info("[Service] Ready", "segments", idx.Len(), "dimensions", idx.Dimensions())
	return nil
}

func (s *Service) build(ctx context.Context, cfg BuildConfig) (*index.Index, error) {
	logger.Info("[Service] Building index", "query", cfg.Query, "max_results", cfg.MaxResults)

	s.progress.SetStage(util.BuildStageFetching)
	docs, err := s.fetcher.Fetch(ctx, cfg.Query, cfg.MaxResults)
	if err != nil {
		return nil, &BuildError{Stage: StageFetch, Err: err}
	}

	s.progress.SetStage(util.BuildStageChunking)
	segments, err := chunk.Split(docs, cfg.ChunkSize, cfg.Overlap)
	if err != nil {
		return nil, &BuildError{Stage: StageChunk, Err: err}
	}
	logger.Info("[Service] Split documents", "documents", len(docs), "segments", len(segments))

	s.progress.SetStage(util.BuildStageEmbedding)
	s.progress.SetSegments(0, len(segments))
	opts := append([]index.BuildOption{index.WithProgress(s.progress.SetSegments)}, s.indexOpts...)
	idx, err := index.Build(ctx, s.embedder, s.store, segments, opts...)
	if err != nil {
		return nil, &BuildError{Stage: StageIndex, Err: err}
	}
	return idx, nil
}

// Ask answers question from the top-k retrieved segments. It fails with
// ErrNotReady, without touching the index, until Build has succeeded.
func (s *Service) Ask(ctx context.Context, question string) (*common.Answer, error) {
	if s.State() != StateReady {
		return nil, ErrNotReady
	}
	idx := s.idx.Load()
	if idx == nil {
		return nil, ErrNotReady
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	hits, err := idx.Retrieve(ctx, question, s.topK)
	if err != nil {
		return nil, &AskError{Stage: StageRetrieve, Err: err}
	}

	segments := make([]common.Segment, 0, len(hits))
	for _, h := range hits {
		segments = append(segments, h.Segment)
	}

	text, err := s.answerer.Answer(ctx, question, segments)
	if err != nil {
		return nil, &AskError{Stage: StageGenerate, Err: err}
	}

	return &common.Answer{
		Text:    text,
		Sources: DedupeCitations(segments),
	}, nil
}

// Stop makes every later Ask fail with ErrNotReady. A build still in
// flight finishes, never flips the service to ready and returns ErrStopped.
func (s *Service) Stop() {
	for {
		cur := s.state.Load()
		if State(cur) == StateStopped {
			return
		}
		if s.state.CompareAndSwap(cur, int32(StateStopped)) {
			logger.Info("[Service] Stopped", "previous", State(cur).String())
			return
		}
	}
}

func (s *Service) Status() Status {
	st := Status{
		State:    s.State(),
		Progress: s.progress.Snapshot(),
	}
	if idx := s.idx.Load(); idx != nil {
		st.Segments = idx.Len()
		st.Dimensions = idx.Dimensions()
		st.Model = idx.Model()
	}
	s.errMu.Lock()
	if s.buildErr != nil {
		st.Error = s.buildErr.Error()
	}
	s.errMu.Unlock()
	return st
}
