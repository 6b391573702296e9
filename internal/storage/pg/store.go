package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/akash-network/provider-console-api/internal/remote"
)

var ErrNotFound = errors.New("not found")

type StoreConfig struct {
	EncryptionKey string
}

// Store persists provider targets and orchestration runs. Key material
// is sealed with AES-GCM before it touches the database.
type Store struct {
	db  *DB
	cfg StoreConfig
}

func NewStore(db *DB, cfg StoreConfig) (*Store, error) {
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("store encryption key is required")
	}
	return &Store{db: db, cfg: cfg}, nil
}

type keyMaterial struct {
	PrivateKey []byte `json:"private_key"`
	Passphrase string `json:"passphrase,omitempty"`
}

func (s *Store) SaveTarget(ctx context.Context, target remote.Target) error {
	material, err := json.Marshal(keyMaterial{
		PrivateKey: target.PrivateKey,
		Passphrase: target.Passphrase,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal key material: %w", err)
	}

	encrypted, err := encryptKeyMaterial(material, s.cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt key material: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO provider_targets (id, host, port, ssh_user, encrypted_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			ssh_user = EXCLUDED.ssh_user,
			encrypted_key = EXCLUDED.encrypted_key,
			updated_at = now()`,
		target.ID(), target.Host, target.Port, target.User, encrypted)
	if err != nil {
		return fmt.Errorf("failed to save target: %w", err)
	}
	return nil
}

func (s *Store) GetTarget(ctx context.Context, id string) (remote.Target, error) {
	var (
		target    remote.Target
		encrypted string
	)
	err := s.db.QueryRow(ctx, `
		SELECT host, port, ssh_user, encrypted_key
		FROM provider_targets WHERE id = $1`, id).
		Scan(&target.Host, &target.Port, &target.User, &encrypted)
	if errors.Is(err, pgx.ErrNoRows) {
		return remote.Target{}, fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return remote.Target{}, fmt.Errorf("failed to load target: %w", err)
	}

	plaintext, err := decryptKeyMaterial(encrypted, s.cfg.EncryptionKey)
	if err != nil {
		return remote.Target{}, fmt.Errorf("failed to decrypt key material: %w", err)
	}

	var material keyMaterial
	if err := json.Unmarshal(plaintext, &material); err != nil {
		return remote.Target{}, fmt.Errorf("failed to unmarshal key material: %w", err)
	}
	target.PrivateKey = material.PrivateKey
	target.Passphrase = material.Passphrase
	return target, nil
}

type RunRecord struct {
	RunID         string          `json:"run_id"`
	Kind          string          `json:"kind"`
	TargetID      string          `json:"target_id"`
	WorkflowID    string          `json:"workflow_id"`
	TemporalRunID string          `json:"temporal_run_id"`
	Status        string          `json:"status"`
	Report        json.RawMessage `json:"report,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (s *Store) CreateRun(ctx context.Context, rec RunRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO runs (run_id, kind, target_id, workflow_id, temporal_run_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.RunID, rec.Kind, rec.TargetID, rec.WorkflowID, rec.TemporalRunID, rec.Status)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, runID, status string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE runs SET status = $2, updated_at = now() WHERE run_id = $1`,
		runID, status)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

func (s *Store) SaveRunReport(ctx context.Context, runID, status string, report any) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE runs SET status = $2, report = $3, updated_at = now() WHERE run_id = $1`,
		runID, status, payload)
	if err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	var rec RunRecord
	err := s.db.QueryRow(ctx, `
		SELECT run_id, kind, target_id, workflow_id, temporal_run_id, status, report, created_at, updated_at
		FROM runs WHERE run_id = $1`, runID).
		Scan(&rec.RunID, &rec.Kind, &rec.TargetID, &rec.WorkflowID,
			&rec.TemporalRunID, &rec.Status, &rec.Report, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to load run: %w", err)
	}
	return rec, nil
}

func (s *Store) ListRunsByTarget(ctx context.Context, targetID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT run_id, kind, target_id, workflow_id, temporal_run_id, status, report, created_at, updated_at
		FROM runs WHERE target_id = $1
		ORDER BY created_at DESC LIMIT $2`, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.RunID, &rec.Kind, &rec.TargetID, &rec.WorkflowID,
			&rec.TemporalRunID, &rec.Status, &rec.Report, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
