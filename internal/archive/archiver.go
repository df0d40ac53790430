package archive

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kioskctl/printwatch/internal/db"
)

const encryptedSuffix = ".age"

// OutcomeSource is the part of the outcome log the archiver drains.
type OutcomeSource interface {
	ListOutcomesBefore(ctx context.Context, cutoff time.Time) ([]*db.Outcome, error)
	DeleteOutcomesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver moves old job outcomes out of the live database into
// standalone sqlite files, encrypted with a passphrase when one is set.
type Archiver struct {
	source      OutcomeSource
	archivePath string
	after       time.Duration
	passphrase  string
	interval    time.Duration
	now         func() time.Time
	log         *zap.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Encrypted bool      `json:"encrypted"`
}

type ArchiveConfig struct {
	ArchivePath string
	After       time.Duration
	Passphrase  string
	Interval    time.Duration
}

func NewArchiver(source OutcomeSource, config ArchiveConfig, log *zap.Logger) (*Archiver, error) {
	if config.ArchivePath == "" {
		config.ArchivePath = "./data/archives"
	}
	if config.After <= 0 {
		config.After = 90 * 24 * time.Hour
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}

	if err := os.MkdirAll(config.ArchivePath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		source:      source,
		archivePath: config.ArchivePath,
		after:       config.After,
		passphrase:  config.Passphrase,
		interval:    config.Interval,
		now:         time.Now,
		log:         log.Named("archive"),
		stopCh:      make(chan struct{}),
	}, nil
}

// Start archives once immediately, then on every interval.
func (a *Archiver) Start(ctx context.Context) {
	a.wg.Add(1)
	go a.runPeriodic(ctx)
}

func (a *Archiver) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

func (a *Archiver) runPeriodic(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if n, err := a.RunArchive(ctx); err != nil {
			a.log.Error("outcome archive failed", zap.Error(err))
		} else if n > 0 {
			a.log.Info("archived job outcomes", zap.Int("count", n))
		}

		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunArchive writes every outcome older than the archive age to a new
// archive file and removes them from the live database. The live rows
// are only deleted once the archive file is complete.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	cutoff := now.Add(-a.after)

	outcomes, err := a.source.ListOutcomesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get outcomes for archival: %w", err)
	}
	if len(outcomes) == 0 {
		return 0, nil
	}

	// The uuid keeps two runs within the same second from sharing a file.
	name := fmt.Sprintf("outcomes_%s_%s.db", now.UTC().Format("20060102T150405"), uuid.NewString())
	archiveDBPath := filepath.Join(a.archivePath, name)
	if err := writeArchiveDB(archiveDBPath, outcomes); err != nil {
		os.Remove(archiveDBPath)
		return 0, err
	}

	if a.passphrase != "" {
		if err := a.encryptAndCleanup(archiveDBPath); err != nil {
			return 0, fmt.Errorf("failed to encrypt archive: %w", err)
		}
	}

	if _, err := a.source.DeleteOutcomesBefore(ctx, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete archived outcomes: %w", err)
	}

	return len(outcomes), nil
}

func writeArchiveDB(path string, outcomes []*db.Outcome) error {
	archiveDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to create archive database: %w", err)
	}
	defer archiveDB.Close()

	if _, err := archiveDB.Exec(`
		CREATE TABLE IF NOT EXISTS job_outcomes (
			id TEXT PRIMARY KEY,
			printer TEXT NOT NULL,
			job_id INTEGER NOT NULL,
			user_id TEXT,
			org_id TEXT,
			pages INTEGER,
			color TEXT,
			priced_as TEXT,
			rate TEXT,
			cost TEXT,
			state TEXT NOT NULL,
			furthest_state TEXT,
			reason TEXT,
			balance_after TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS archive_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			archived_at DATETIME,
			outcome_count INTEGER
		);
	`); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}

	tx, err := archiveDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}

	for _, o := range outcomes {
		var balanceAfter interface{}
		if o.BalanceAfter != nil {
			balanceAfter = o.BalanceAfter.String()
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO job_outcomes (id, printer, job_id, user_id, org_id, pages, color, priced_as, rate, cost,
				state, furthest_state, reason, balance_after, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, o.ID, o.Printer, o.JobID, o.UserID, o.OrgID, o.Pages, o.Color, o.PricedAs, o.Rate.String(), o.Cost.String(),
			o.State, o.FurthestState, o.Reason, balanceAfter, o.CreatedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert outcome to archive: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, outcome_count) VALUES (1, ?, ?)
	`, time.Now().UTC(), len(outcomes)); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update archive metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

func (a *Archiver) encryptAndCleanup(archiveDBPath string) error {
	if err := a.encryptFile(archiveDBPath, archiveDBPath+encryptedSuffix); err != nil {
		return err
	}
	return os.Remove(archiveDBPath)
}

func (a *Archiver) encryptFile(inputPath, outputPath string) error {
	recipient, err := age.NewScryptRecipient(a.passphrase)
	if err != nil {
		return fmt.Errorf("invalid archive passphrase: %w", err)
	}

	plaintext, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}

	var ciphertext bytes.Buffer
	w, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return fmt.Errorf("age encryption failed: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("age encryption failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("age encryption failed: %w", err)
	}

	return os.WriteFile(outputPath, ciphertext.Bytes(), 0o600)
}

// DecryptArchive writes the plaintext sqlite file of an encrypted
// archive to outputPath.
func (a *Archiver) DecryptArchive(filename, outputPath string) error {
	if a.passphrase == "" {
		return fmt.Errorf("passphrase not set")
	}

	f, err := os.Open(filepath.Join(a.archivePath, filepath.Base(filename)))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("archive not found")
		}
		return err
	}
	defer f.Close()

	identity, err := age.NewScryptIdentity(a.passphrase)
	if err != nil {
		return fmt.Errorf("invalid archive passphrase: %w", err)
	}
	r, err := age.Decrypt(f, identity)
	if err != nil {
		return fmt.Errorf("age decryption failed: %w", err)
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to decrypt archive: %w", err)
	}
	return out.Close()
}

func (a *Archiver) ListArchives() ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []*ArchiveFile
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, "outcomes_") {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		archives = append(archives, &ArchiveFile{
			Filename:  name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			Encrypted: strings.HasSuffix(name, encryptedSuffix),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Filename < archives[j].Filename
	})
	return archives, nil
}

func (a *Archiver) GetArchivePath() string {
	return a.archivePath
}

func (a *Archiver) HasPassphrase() bool {
	return a.passphrase != ""
}
