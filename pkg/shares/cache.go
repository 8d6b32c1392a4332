package shares

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/seekd/seekd/internal/logger"
	"github.com/seekd/seekd/internal/state"
	"github.com/seekd/seekd/internal/telemetry"
)

// fillChannelCapacity bounds the directory fan-out channel. The driver
// blocks when workers fall behind.
const fillChannelCapacity = 1000

// progressBroadcastInterval throttles scan progress broadcasts.
const progressBroadcastInterval = 100 * time.Millisecond

// StorageMode selects where the live index lives.
type StorageMode string

const (
	// StorageDisk keeps the live index in a database file.
	StorageDisk StorageMode = "disk"

	// StorageMemory keeps the live index in memory. The backup is still
	// written to disk after every successful scan.
	StorageMemory StorageMode = "memory"
)

// StorageConfig configures the share index databases.
type StorageConfig struct {
	// Mode is "disk" or "memory". Default: disk.
	Mode StorageMode `mapstructure:"mode" yaml:"mode"`

	// Dir is the directory holding the live and backup database files.
	// Default: $XDG_CONFIG_HOME/seekd.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Config configures the shared-file cache.
type Config struct {
	// Shares are the index roots, excluded entries included.
	Shares []Share

	// Filters are regular expressions matched against local paths;
	// matching directories and files are left out of the index.
	Filters []string

	// Workers is the number of concurrent directory scanners.
	// Default: number of CPUs.
	Workers int

	Storage StorageConfig
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Storage.Mode == "" {
		c.Storage.Mode = StorageDisk
	}
	if c.Storage.Dir == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		c.Storage.Dir = filepath.Join(configDir, "seekd")
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case StorageDisk, StorageMemory:
	default:
		return fmt.Errorf("unsupported share storage mode: %s", c.Storage.Mode)
	}
	for _, pattern := range c.Filters {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid share filter %q: %w", pattern, err)
		}
	}
	return validateShares(c.Shares)
}

// BrowseDirectory is one directory of the browse tree with the files it
// directly contains. Directories without files appear with an empty file
// list so peers receive the full tree shape.
type BrowseDirectory struct {
	Name  string `json:"name"`
	Files []File `json:"files"`
}

// Cache is the shared-file cache. It owns the live index database and its
// backup, runs fills, and answers resolution, search and browse queries.
type Cache struct {
	shares  []Share
	ordered []Share // non-excluded, longest local path first
	filters []*regexp.Regexp
	workers int

	storageMode StorageMode
	backupPath  string

	db      *store
	monitor *state.Monitor[State]
	metrics Metrics

	// fillMu is the single-writer exclusion for fills.
	fillMu sync.Mutex

	cancelMu   sync.Mutex
	fillCancel context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCache opens the live index database and prepares the cache. The index
// is not scanned or loaded; callers follow up with TryLoad and Fill.
func NewCache(config Config, metrics Metrics) (*Cache, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid share configuration: %w", err)
	}

	if err := os.MkdirAll(config.Storage.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create share index directory: %w", err)
	}

	var dsn string
	switch config.Storage.Mode {
	case StorageMemory:
		// A named in-memory database with cache=shared keeps every pooled
		// connection on the same database, scoped to this cache instance.
		dsn = fmt.Sprintf("file:shares-%s?mode=memory&cache=shared", uuid.New().String())
	default:
		dsn = filepath.Join(config.Storage.Dir, "shares.db") +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := openStore(dsn)
	if err != nil {
		return nil, err
	}

	filters := make([]*regexp.Regexp, 0, len(config.Filters))
	for _, pattern := range config.Filters {
		filters = append(filters, regexp.MustCompile(pattern))
	}

	ordered := make([]Share, 0, len(config.Shares))
	for _, sh := range config.Shares {
		if !sh.Excluded {
			ordered = append(ordered, sh)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return len(ordered[i].LocalPath) > len(ordered[j].LocalPath)
	})

	ctx, cancel := context.WithCancel(context.Background())

	return &Cache{
		shares:      config.Shares,
		ordered:     ordered,
		filters:     filters,
		workers:     config.Workers,
		storageMode: config.Storage.Mode,
		backupPath:  filepath.Join(config.Storage.Dir, "shares.backup.db"),
		db:          db,
		monitor:     state.NewMonitor(State{}),
		metrics:     metrics,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Monitor exposes the scan state for subscription and inspection.
func (c *Cache) Monitor() *state.Monitor[State] {
	return c.monitor
}

// Shares returns the configured share roots.
func (c *Cache) Shares() []Share {
	out := make([]Share, len(c.shares))
	copy(out, c.shares)
	return out
}

// Close cancels any running fill, waits for it to wind down, and closes
// the live database.
func (c *Cache) Close() error {
	c.cancel()
	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	return c.db.close()
}

// Fill scans every non-excluded share and rebuilds the index. Fills are
// single-writer: a second caller gets ErrScanInProgress. A cancelled fill
// never deletes rows; only a completed scan sweeps tombstones and writes
// the backup.
func (c *Cache) Fill(ctx context.Context) error {
	if !c.fillMu.TryLock() {
		return ErrScanInProgress
	}
	defer c.fillMu.Unlock()

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Process shutdown cancels a running fill too.
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	c.setFillCancel(cancel)
	defer c.setFillCancel(nil)

	fctx, span := telemetry.StartSharesSpan(fctx, telemetry.SpanSharesScan)
	defer span.End()

	start := time.Now()
	epoch := start.UnixMilli()

	c.monitor.Update(func(s State) State {
		s.Filling = true
		s.Filled = false
		s.Faulted = false
		s.Cancelled = false
		s.Progress = 0
		return s
	})

	logger.Info("share scan started",
		logger.ScanEpoch(epoch),
		logger.Count(len(c.ordered)),
	)

	excluded, err := c.scan(fctx, epoch)
	elapsed := time.Since(start)

	files, _ := c.db.countFiles("")
	directories, _ := c.db.countDirectories("")

	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		c.monitor.Update(func(s State) State {
			s.Filling = false
			s.Cancelled = true
			s.Files = files
			s.Directories = directories
			s.ExcludedDirectories = excluded
			return s
		})
		c.observeScan(ScanCancelled, elapsed, files, directories)
		logger.Warn("share scan cancelled", logger.Elapsed(elapsed))
		return err

	case err != nil:
		c.monitor.Update(func(s State) State {
			s.Filling = false
			s.Faulted = true
			s.Files = files
			s.Directories = directories
			s.ExcludedDirectories = excluded
			return s
		})
		c.observeScan(ScanFaulted, elapsed, files, directories)
		telemetry.RecordError(fctx, err)
		logger.Error("share scan failed", logger.Err(err), logger.Elapsed(elapsed))
		return err
	}

	c.monitor.Update(func(s State) State {
		return State{
			Filled:              true,
			Progress:            1,
			Files:               files,
			Directories:         directories,
			ExcludedDirectories: excluded,
			ScannedAt:           start.UTC(),
		}
	})
	c.observeScan(ScanSucceeded, elapsed, files, directories)

	logger.Info("share scan completed",
		logger.Files(files),
		logger.Directories(directories),
		logger.Elapsed(elapsed),
	)
	return nil
}

// scan runs the fill body: schema check, enumeration, worker fan-out, and
// on success the tombstone sweep and backup. Returns the count of excluded
// directories.
func (c *Cache) scan(ctx context.Context, epoch int64) (int, error) {
	if !c.db.validSchema() {
		if err := c.db.createSchema(); err != nil {
			return 0, err
		}
	}

	directories, excluded, err := c.enumerateDirectories(ctx)
	if err != nil {
		return excluded, err
	}

	total := len(directories)
	var processed atomic.Int64
	limiter := rate.NewLimiter(rate.Every(progressBroadcastInterval), 1)

	ch := make(chan string, fillChannelCapacity)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(ch)
		for _, dir := range directories {
			select {
			case ch <- dir:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			for dir := range ch {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := c.scanDirectory(dir, epoch); err != nil {
					return err
				}

				done := processed.Add(1)
				if limiter.Allow() {
					c.monitor.Update(func(s State) State {
						s.Progress = float64(done) / float64(total)
						return s
					})
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return excluded, err
	}
	if err := ctx.Err(); err != nil {
		// The sweep must not run for a cancelled scan: rows from the
		// previous fill are still authoritative.
		return excluded, err
	}

	swept, err := c.db.sweep(epoch)
	if err != nil {
		return excluded, fmt.Errorf("failed to sweep stale index rows: %w", err)
	}
	if swept > 0 {
		logger.Debug("swept stale index rows", logger.Count(int(swept)))
	}

	if err := c.db.backupTo(c.backupPath); err != nil {
		return excluded, err
	}
	return excluded, nil
}

// enumerateDirectories walks every non-excluded local share and returns the
// deduplicated, sorted directory set with the count of directories excluded
// by filters, hidden-name skipping or excluded shares. Agent-hosted shares
// are indexed by their agent, not scanned here.
func (c *Cache) enumerateDirectories(ctx context.Context) ([]string, int, error) {
	seen := make(map[string]struct{})
	excluded := 0

	for _, sh := range c.shares {
		if sh.Excluded || sh.Agent != "" {
			continue
		}

		err := filepath.WalkDir(sh.LocalPath, func(p string, d fs.DirEntry, werr error) error {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if werr != nil {
				logger.Debug("skipping inaccessible path", logger.Path(p), logger.Err(werr))
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				return nil
			}
			if p != sh.LocalPath && hiddenName(d.Name()) {
				excluded++
				return fs.SkipDir
			}
			if c.filteredOut(p) {
				excluded++
				return fs.SkipDir
			}
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, excluded, err
		}
	}

	for _, sh := range c.shares {
		if !sh.Excluded {
			continue
		}
		prefix := sh.LocalPath + string(filepath.Separator)
		for p := range seen {
			if p == sh.LocalPath || strings.HasPrefix(p, prefix) {
				delete(seen, p)
				excluded++
			}
		}
	}

	directories := make([]string, 0, len(seen))
	for p := range seen {
		directories = append(directories, p)
	}
	sort.Strings(directories)
	return directories, excluded, nil
}

// scanDirectory indexes one directory: the directory row itself plus every
// regular file directly inside it. Inaccessible directories are skipped,
// not fatal.
func (c *Cache) scanDirectory(dir string, epoch int64) error {
	sh, ok := c.shareFor(dir)
	if !ok {
		return nil
	}

	masked, ok := sh.Mask(dir)
	if !ok {
		return nil
	}
	if err := c.db.insertDirectory(masked, epoch); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Debug("skipping unreadable directory", logger.Path(dir), logger.Err(err))
		return nil
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || hiddenName(entry.Name()) {
			continue
		}

		local := filepath.Join(dir, entry.Name())
		if c.filteredOut(local) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		maskedFile, ok := sh.Mask(local)
		if !ok {
			continue
		}

		file := &File{
			MaskedFilename:   maskedFile,
			OriginalFilename: local,
			Size:             info.Size(),
			TouchedAt:        info.ModTime().UnixMilli(),
			Code:             1,
			Extension:        strings.ToLower(strings.TrimPrefix(filepath.Ext(entry.Name()), ".")),
			AttributeJSON:    "[]",
			Timestamp:        epoch,
		}
		if err := c.db.upsertFile(file); err != nil {
			return err
		}
	}
	return nil
}

// TryCancelFill cancels a running fill. Returns whether a fill was running.
func (c *Cache) TryCancelFill() bool {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if c.fillCancel == nil {
		return false
	}
	c.fillCancel()
	return true
}

// RequestScan triggers a background rescan. A scan already in progress is
// not an error; it simply keeps running.
func (c *Cache) RequestScan() {
	go func() {
		err := c.Fill(c.ctx)
		if err != nil && !errors.Is(err, ErrScanInProgress) && !errors.Is(err, context.Canceled) {
			logger.Error("background share scan failed", logger.Err(err))
		}
	}()
}

// TryLoad makes the index available without a scan: a valid live database
// is used as-is, otherwise the backup written by the last successful fill
// is restored into it. Returns whether an index is available.
func (c *Cache) TryLoad() (bool, error) {
	if c.db.validSchema() {
		c.publishLoaded()
		return true, nil
	}

	if _, err := os.Stat(c.backupPath); err != nil {
		return false, nil
	}

	backup, err := openStore(c.backupPath)
	if err != nil {
		return false, err
	}
	defer backup.close()

	if !backup.validSchema() {
		logger.Warn("share index backup has an invalid schema, ignoring",
			logger.Database(c.backupPath))
		return false, nil
	}

	if err := c.db.restoreFrom(backup); err != nil {
		return false, fmt.Errorf("failed to restore share index from backup: %w", err)
	}

	logger.Info("share index restored from backup", logger.Database(c.backupPath))
	c.publishLoaded()
	return true, nil
}

func (c *Cache) publishLoaded() {
	files, _ := c.db.countFiles("")
	directories, _ := c.db.countDirectories("")

	c.monitor.Update(func(s State) State {
		s.Filled = true
		s.Files = files
		s.Directories = directories
		return s
	})
}

// Resolve maps a masked filename to the host serving it and the original
// filename on that host. An empty host means local disk. A miss returns
// ErrNotShared.
func (c *Cache) Resolve(ctx context.Context, masked string) (string, string, error) {
	_, span := telemetry.StartSharesSpan(ctx, telemetry.SpanSharesResolve,
		telemetry.TransferFilename(masked))
	defer span.End()

	original, err := c.db.resolve(masked)
	if err != nil {
		return "", "", err
	}

	host := ""
	for _, sh := range c.ordered {
		if sh.ContainsMasked(masked) {
			host = sh.Agent
			break
		}
	}
	return host, original, nil
}

// Search returns indexed files matching the tokenised query, ascending by
// masked filename. Queries without positive terms return no results.
func (c *Cache) Search(ctx context.Context, query string) ([]File, error) {
	ctx, span := telemetry.StartSharesSpan(ctx, telemetry.SpanSharesSearch,
		telemetry.SearchQuery(query))
	defer span.End()

	start := time.Now()

	match, ok := buildMatch(query)
	if !ok {
		return []File{}, nil
	}

	files, err := c.db.search(match)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("search failed: %w", err)
	}

	span.SetAttributes(telemetry.SearchResults(len(files)))
	if c.metrics != nil {
		c.metrics.ObserveSearch(time.Since(start), len(files))
	}
	return files, nil
}

// Browse returns the directory tree, files grouped into their parent
// directories. Directories without files appear as empty entries. A share
// remote path narrows the tree to that share.
func (c *Cache) Browse(ctx context.Context, prefix string) ([]BrowseDirectory, error) {
	_, span := telemetry.StartSharesSpan(ctx, telemetry.SpanSharesBrowse)
	defer span.End()

	names, err := c.db.directories(prefix)
	if err != nil {
		return nil, err
	}
	files, err := c.db.files(prefix)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]int, len(names))
	tree := make([]BrowseDirectory, 0, len(names))
	for _, name := range names {
		byName[name] = len(tree)
		tree = append(tree, BrowseDirectory{Name: name, Files: []File{}})
	}

	for _, f := range files {
		parent := f.MaskedDirectory()
		i, ok := byName[parent]
		if !ok {
			// Orphaned file row; keep the tree complete anyway.
			byName[parent] = len(tree)
			tree = append(tree, BrowseDirectory{Name: parent, Files: []File{}})
			i = byName[parent]
		}
		tree[i].Files = append(tree[i].Files, f)
	}

	sort.Slice(tree, func(i, j int) bool { return tree[i].Name < tree[j].Name })
	return tree, nil
}

// ListDirectory returns a single directory with the files directly inside
// it. Unknown directories return ErrDirectoryNotFound.
func (c *Cache) ListDirectory(ctx context.Context, name string) (BrowseDirectory, error) {
	exists, err := c.db.directoryExists(name)
	if err != nil {
		return BrowseDirectory{}, err
	}
	if !exists {
		return BrowseDirectory{}, ErrDirectoryNotFound
	}

	files, err := c.db.files(name)
	if err != nil {
		return BrowseDirectory{}, err
	}

	dir := BrowseDirectory{Name: name, Files: []File{}}
	for _, f := range files {
		if f.MaskedDirectory() == name {
			dir.Files = append(dir.Files, f)
		}
	}
	return dir, nil
}

// CountFiles returns the number of indexed files, optionally under a
// masked prefix.
func (c *Cache) CountFiles(prefix string) (int, error) {
	return c.db.countFiles(prefix)
}

// CountDirectories returns the number of indexed directories, optionally
// under a masked prefix.
func (c *Cache) CountDirectories(prefix string) (int, error) {
	return c.db.countDirectories(prefix)
}

func (c *Cache) setFillCancel(cancel context.CancelFunc) {
	c.cancelMu.Lock()
	c.fillCancel = cancel
	c.cancelMu.Unlock()
}

func (c *Cache) shareFor(localPath string) (Share, bool) {
	for _, sh := range c.ordered {
		if localPath == sh.LocalPath ||
			strings.HasPrefix(localPath, sh.LocalPath+string(filepath.Separator)) {
			return sh, true
		}
	}
	return Share{}, false
}

func (c *Cache) filteredOut(path string) bool {
	for _, filter := range c.filters {
		if filter.MatchString(path) {
			return true
		}
	}
	return false
}

func (c *Cache) observeScan(outcome string, elapsed time.Duration, files, directories int) {
	if c.metrics != nil {
		c.metrics.ObserveScan(outcome, elapsed, files, directories)
	}
}

func hiddenName(name string) bool {
	return strings.HasPrefix(name, ".")
}
