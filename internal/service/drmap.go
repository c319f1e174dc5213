package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/listrelay/listrelay/internal/domain"
	"github.com/listrelay/listrelay/internal/logger"
)

// DrMapService owns the process-wide configuration mapping. The current
// snapshot is held behind an atomic pointer and replaced whole on reload;
// a pipeline run that captured an older snapshot keeps reading it
// consistently until it finishes.
type DrMapService struct {
	github *GitHubService
	owner  string
	repo   string
	path   string
	logger *logger.Logger

	current atomic.Pointer[domain.DrMap]
}

// DrMapConfig holds configuration for the DrMap service.
type DrMapConfig struct {
	Owner      string
	Repo       string
	ConfigPath string
}

// NewDrMapService creates a DrMap service reading drs.json via the content
// fetcher. The mapping starts empty; call Bootstrap before serving.
func NewDrMapService(github *GitHubService, cfg *DrMapConfig, log *logger.Logger) *DrMapService {
	if log == nil {
		log = logger.GetDefault()
	}
	s := &DrMapService{
		github: github,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		path:   cfg.ConfigPath,
		logger: log,
	}
	s.current.Store(&domain.DrMap{})
	return s
}

// Current returns the active mapping snapshot. Never nil.
func (s *DrMapService) Current() *domain.DrMap {
	return s.current.Load()
}

// Load fetches and parses drs.json at the given revision without installing
// it. An empty ref reads the default branch head.
func (s *DrMapService) Load(ctx context.Context, ref string) (*domain.DrMap, error) {
	content, ok := s.github.GetFileContent(ctx, s.owner, s.repo, s.path, ref)
	if !ok {
		return nil, &ConfigLoadError{Path: s.path, Err: errors.New("content unavailable")}
	}
	m, err := domain.ParseDrMap([]byte(content))
	if err != nil {
		return nil, &ConfigLoadError{Path: s.path, Err: err}
	}
	return m, nil
}

// Bootstrap performs the initial load and installs the mapping. A failure
// here is fatal to the caller: the process must not serve without an
// established configuration.
func (s *DrMapService) Bootstrap(ctx context.Context) error {
	m, err := s.Load(ctx, "")
	if err != nil {
		return err
	}
	s.current.Store(m)
	s.logger.Infof("Configuration mapping loaded: prod=%d lists, test=%d lists",
		m.Partition(domain.EnvProduction).Len(), m.Partition(domain.EnvTest).Len())
	return nil
}

// Reload fetches the mapping at the given revision, diffs it against the
// active snapshot, and atomically installs the new one. On failure the
// previous mapping stays active and the error is returned for the caller to
// report; the swap never happens partially.
func (s *DrMapService) Reload(ctx context.Context, ref string) ([]domain.MapChange, error) {
	m, err := s.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	old := s.current.Load()
	changes := domain.DiffDrMaps(old, m)
	s.current.Store(m)
	s.logger.Infof("Configuration mapping reloaded: ref=%s, changes=%d", ref, len(changes))
	return changes, nil
}
