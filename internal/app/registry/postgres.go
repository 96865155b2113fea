package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// workflowsDoc is the JSON shape persisted in the services.workflows column;
// map keys become object keys and TriggerConfig/Component/SubmitConfig encode
// with their zero-value-friendly field names.
type workflowsDoc map[wavs.WorkflowId]wavs.Workflow

// Postgres is a Store backed by the `services` / `services_by_hash` tables
// (§6 "Persisted state"), following the teacher's raw database/sql pattern:
// positional placeholders, JSON-marshaled structured columns, RowsAffected
// used to detect not-found on update/delete.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps db. Callers must run migrations creating the services and
// services_by_hash tables before use.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func (p *Postgres) AddService(ctx context.Context, svc wavs.Service) (wavs.ServiceId, error) {
	if err := svc.Validate(); err != nil {
		return wavs.ServiceId{}, err
	}
	id := svc.Id()
	workflowsJSON, err := json.Marshal(workflowsDoc(svc.Workflows))
	if err != nil {
		return wavs.ServiceId{}, fmt.Errorf("marshal workflows: %w", err)
	}
	now := time.Now().UTC()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return wavs.ServiceId{}, fmt.Errorf("begin add_service: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM services WHERE id = $1)`, id.String()).Scan(&exists); err != nil {
		return wavs.ServiceId{}, fmt.Errorf("check existing service: %w", err)
	}
	if exists {
		return wavs.ServiceId{}, ErrAlreadyExists
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO services (id, manager_chain, manager_address, name, status, workflows, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id.String(), string(svc.Manager.Chain), svc.Manager.Address, svc.Name, svc.Status.String(), workflowsJSON, now); err != nil {
		return wavs.ServiceId{}, fmt.Errorf("insert service: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO services_by_hash (manager_digest, service_id)
		VALUES ($1, $2)
		ON CONFLICT (manager_digest) DO UPDATE SET service_id = EXCLUDED.service_id
	`, wavs.ServiceDigest(id).String(), id.String()); err != nil {
		return wavs.ServiceId{}, fmt.Errorf("insert services_by_hash: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return wavs.ServiceId{}, fmt.Errorf("commit add_service: %w", err)
	}
	return id, nil
}

func (p *Postgres) SaveService(ctx context.Context, svc wavs.Service) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	id := svc.Id()
	workflowsJSON, err := json.Marshal(workflowsDoc(svc.Workflows))
	if err != nil {
		return fmt.Errorf("marshal workflows: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE services
		SET manager_chain = $2, manager_address = $3, name = $4, status = $5, workflows = $6, updated_at = $7
		WHERE id = $1
	`, id.String(), string(svc.Manager.Chain), svc.Manager.Address, svc.Name, svc.Status.String(), workflowsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save service %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p.insertViaAdd(ctx, svc)
	}
	return nil
}

// insertViaAdd lets save_service double as an upsert for services the
// dispatcher already validated as new (AddService enforces the
// transactional services_by_hash write once).
func (p *Postgres) insertViaAdd(ctx context.Context, svc wavs.Service) error {
	_, err := p.AddService(ctx, svc)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

func (p *Postgres) DeleteService(ctx context.Context, id wavs.ServiceId) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete_service: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete service %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wavs.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM services_by_hash WHERE service_id = $1`, id.String()); err != nil {
		return fmt.Errorf("delete services_by_hash %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE service_id = $1`, id.String()); err != nil {
		return fmt.Errorf("delete kv namespace %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_atomics_counter WHERE service_id = $1`, id.String()); err != nil {
		return fmt.Errorf("delete kv counters %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete_service: %w", err)
	}
	return nil
}

func (p *Postgres) GetService(ctx context.Context, id wavs.ServiceId) (wavs.Service, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT manager_chain, manager_address, name, status, workflows
		FROM services WHERE id = $1
	`, id.String())
	return scanService(row)
}

func (p *Postgres) ListServices(ctx context.Context, limit, offset int) ([]wavs.Service, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT manager_chain, manager_address, name, status, workflows
		FROM services ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, nullableLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []wavs.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (p *Postgres) AllComponentDigests(ctx context.Context) (map[wavs.ComponentDigest]struct{}, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT workflows FROM services`)
	if err != nil {
		return nil, fmt.Errorf("scan component digests: %w", err)
	}
	defer rows.Close()

	out := make(map[wavs.ComponentDigest]struct{})
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan workflows column: %w", err)
		}
		var doc workflowsDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal workflows: %w", err)
		}
		for _, wf := range doc {
			if !wf.Component.Source.Digest.IsZero() {
				out[wf.Component.Source.Digest] = struct{}{}
			}
		}
	}
	return out, rows.Err()
}

// rowScanner lets scanService work for both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (wavs.Service, error) {
	var (
		chain, address, name, status string
		workflowsRaw                 []byte
	)
	if err := row.Scan(&chain, &address, &name, &status, &workflowsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wavs.Service{}, wavs.ErrNotFound
		}
		return wavs.Service{}, fmt.Errorf("scan service: %w", err)
	}
	var doc workflowsDoc
	if err := json.Unmarshal(workflowsRaw, &doc); err != nil {
		return wavs.Service{}, fmt.Errorf("unmarshal workflows: %w", err)
	}
	svc := wavs.Service{
		Name:      name,
		Manager:   wavs.ServiceManager{Chain: wavs.ChainKey(chain), Address: address},
		Workflows: map[wavs.WorkflowId]wavs.Workflow(doc),
	}
	if status == "paused" {
		svc.Status = wavs.StatusPaused
	}
	return svc, nil
}

func nullableLimit(limit int) int {
	if limit <= 0 {
		return 1 << 30
	}
	return limit
}
