package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
)

// Storage defaults
const (
	DefaultRoot       = "data"
	DefaultReportFile = "branch_weekly_sales.txt"
	DefaultFileMode   = 0o644
	DefaultDirMode    = 0o755
)

var (
	// ErrBranchNotFound is returned when a branch directory does not exist.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrReportNotFound is returned when a branch has no stored report.
	ErrReportNotFound = errors.New("report not found")
)

// Config contains branch store configuration
type Config struct {
	Root       string
	ReportFile string
	FileMode   fs.FileMode
	DirMode    fs.FileMode
}

// Receipt describes a report as it sits on disk.
type Receipt struct {
	Branch    string    `json:"branch"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest"`
	WrittenAt time.Time `json:"written_at"`
}

// BranchInfo is a directory listing entry for one branch.
type BranchInfo struct {
	Branch    string    `json:"branch"`
	HasReport bool      `json:"has_report"`
	Size      int64     `json:"size,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Store is the filesystem-backed branch store. It is safe for
// concurrent use; writes to the same branch are serialized.
type Store struct {
	root       string
	reportFile string
	fileMode   fs.FileMode
	dirMode    fs.FileMode
	logger     *slog.Logger
	locks      *branchLocks
}

// New creates a branch store. Zero config fields take their defaults.
func New(cfg Config, logger *slog.Logger) *Store {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.ReportFile == "" {
		cfg.ReportFile = DefaultReportFile
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = DefaultFileMode
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = DefaultDirMode
	}

	return &Store{
		root:       cfg.Root,
		reportFile: cfg.ReportFile,
		fileMode:   cfg.FileMode,
		dirMode:    cfg.DirMode,
		logger:     logger,
		locks:      newBranchLocks(),
	}
}

// Root returns the data root directory.
func (s *Store) Root() string {
	return s.root
}

// Init ensures the data root exists.
func (s *Store) Init() error {
	info, err := os.Stat(s.root)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("data root %s is not a directory", s.root)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat data root %s: %w", s.root, err)
	}

	if err := os.MkdirAll(s.root, s.dirMode); err != nil {
		return fmt.Errorf("failed to create data root %s: %w", s.root, err)
	}

	s.logger.Info("Created data directory", slog.String("path", s.root))
	return nil
}

// BranchPath returns the directory for a branch.
func (s *Store) BranchPath(branch string) string {
	return filepath.Join(s.root, branch)
}

// ReportPath returns the report file path for a branch.
func (s *Store) ReportPath(branch string) string {
	return filepath.Join(s.root, branch, s.reportFile)
}

// EnsureBranch creates the branch directory if it is absent. It succeeds
// when the directory exists afterwards, including when another session
// created it concurrently.
func (s *Store) EnsureBranch(branch string) error {
	dir := s.BranchPath(branch)

	err := os.Mkdir(dir, s.dirMode)
	switch {
	case err == nil:
		s.logger.Info("Created directory for branch",
			slog.String("branch", branch),
			slog.String("path", dir),
		)
		return nil
	case errors.Is(err, fs.ErrExist):
		info, statErr := os.Stat(dir)
		if statErr != nil {
			return fmt.Errorf("failed to stat branch directory %s: %w", dir, statErr)
		}
		if !info.IsDir() {
			return fmt.Errorf("branch path %s exists and is not a directory", dir)
		}
		return nil
	default:
		return fmt.Errorf("failed to create branch directory %s: %w", dir, err)
	}
}

// WriteReport creates or truncates the branch report file and writes
// report to it. The write is not synced to stable storage.
func (s *Store) WriteReport(branch string, report []byte) (*Receipt, error) {
	unlock := s.locks.lock(branch)
	defer unlock()

	path := s.ReportPath(branch)
	if err := os.WriteFile(path, report, s.fileMode); err != nil {
		return nil, fmt.Errorf("failed to write report %s: %w", path, err)
	}

	receipt := &Receipt{
		Branch:    branch,
		Path:      path,
		Size:      int64(len(report)),
		Digest:    digest(report),
		WrittenAt: time.Now().UTC(),
	}

	s.logger.Debug("Report written",
		slog.String("branch", branch),
		slog.String("path", path),
		slog.Int64("size", receipt.Size),
		slog.String("digest", receipt.Digest),
	)

	return receipt, nil
}

// ReadReport returns the stored report for a branch.
func (s *Store) ReadReport(branch string) ([]byte, error) {
	unlock := s.locks.lock(branch)
	defer unlock()

	data, err := os.ReadFile(s.ReportPath(branch))
	if err != nil {
		return nil, s.notFound(branch, err)
	}
	return data, nil
}

// Stat returns a receipt for the report currently stored for a branch.
// The digest is computed from the file contents.
func (s *Store) Stat(branch string) (*Receipt, error) {
	unlock := s.locks.lock(branch)
	defer unlock()

	path := s.ReportPath(branch)
	info, err := os.Stat(path)
	if err != nil {
		return nil, s.notFound(branch, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, s.notFound(branch, err)
	}

	return &Receipt{
		Branch:    branch,
		Path:      path,
		Size:      info.Size(),
		Digest:    digest(data),
		WrittenAt: info.ModTime().UTC(),
	}, nil
}

// Branches lists the branch directories under the data root, sorted by
// branch code.
func (s *Store) Branches() ([]BranchInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list data root %s: %w", s.root, err)
	}

	branches := make([]BranchInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		branch := BranchInfo{Branch: entry.Name()}
		if info, err := os.Stat(s.ReportPath(entry.Name())); err == nil {
			branch.HasReport = true
			branch.Size = info.Size()
			branch.UpdatedAt = info.ModTime().UTC()
		}
		branches = append(branches, branch)
	}

	sort.Slice(branches, func(i, j int) bool {
		return branches[i].Branch < branches[j].Branch
	})

	return branches, nil
}

func (s *Store) notFound(branch string, err error) error {
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read report for branch %s: %w", branch, err)
	}
	if _, statErr := os.Stat(s.BranchPath(branch)); statErr != nil {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	}
	return fmt.Errorf("%w: %s", ErrReportNotFound, branch)
}

// digest returns the hex BLAKE3-256 digest of data.
func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
