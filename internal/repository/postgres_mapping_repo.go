package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

// PostgresMappingRepo はPostgreSQLを使用したソースマッピングリポジトリ。
type PostgresMappingRepo struct {
	db *sql.DB
}

// NewPostgresMappingRepo はPostgresMappingRepoを生成する。
func NewPostgresMappingRepo(db *sql.DB) *PostgresMappingRepo {
	return &PostgresMappingRepo{db: db}
}

const mappingColumns = `id, source_name, source_category, target_category, feed_url,
	is_active, fetch_interval_minutes, last_scraped_at, last_status, last_error,
	last_item_count, created_at, updated_at`

// scanMapping は1行をSourceMappingに読み込む。
func scanMapping(row interface{ Scan(...any) error }) (*model.SourceMapping, error) {
	m := &model.SourceMapping{}
	var lastScrapedAt sql.NullTime
	var lastStatus string

	err := row.Scan(
		&m.ID, &m.SourceName, &m.SourceCategory, &m.TargetCategory, &m.FeedURL,
		&m.IsActive, &m.FetchIntervalMinutes, &lastScrapedAt, &lastStatus, &m.LastError,
		&m.LastItemCount, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.LastStatus = model.RunStatus(lastStatus)
	if lastScrapedAt.Valid {
		m.LastScrapedAt = &lastScrapedAt.Time
	}
	return m, nil
}

// FindByID は指定IDのマッピングを取得する。見つからない場合はnilを返す。
func (r *PostgresMappingRepo) FindByID(ctx context.Context, id string) (*model.SourceMapping, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+mappingColumns+` FROM source_mappings WHERE id = $1`, id)

	m, err := scanMapping(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("マッピングの取得に失敗しました: %w", err)
	}
	return m, nil
}

// ListActive はアクティブなマッピングをsource_name, source_category順で返す。
func (r *PostgresMappingRepo) ListActive(ctx context.Context) ([]*model.SourceMapping, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mappingColumns+` FROM source_mappings
		 WHERE is_active ORDER BY source_name, source_category`)
	if err != nil {
		return nil, fmt.Errorf("アクティブなマッピングの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectMappings(rows)
}

// ListActiveBySource は指定ソースのアクティブなマッピング一覧を返す。
func (r *PostgresMappingRepo) ListActiveBySource(ctx context.Context, sourceName string) ([]*model.SourceMapping, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mappingColumns+` FROM source_mappings
		 WHERE is_active AND source_name = $1 ORDER BY source_category`, sourceName)
	if err != nil {
		return nil, fmt.Errorf("ソース別マッピングの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectMappings(rows)
}

// List は全マッピングを返す。
func (r *PostgresMappingRepo) List(ctx context.Context) ([]*model.SourceMapping, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mappingColumns+` FROM source_mappings ORDER BY source_name, source_category`)
	if err != nil {
		return nil, fmt.Errorf("マッピング一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectMappings(rows)
}

func collectMappings(rows *sql.Rows) ([]*model.SourceMapping, error) {
	var mappings []*model.SourceMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("マッピング行の読み込みに失敗しました: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("マッピング行の走査に失敗しました: %w", err)
	}
	return mappings, nil
}

// Create はマッピングを作成する。
// アクティブな (source_name, feed_url) の部分一意インデックスに違反した場合は
// model.ErrMappingConflictを返す。
func (r *PostgresMappingRepo) Create(ctx context.Context, m *model.SourceMapping) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO source_mappings
		   (id, source_name, source_category, target_category, feed_url,
		    is_active, fetch_interval_minutes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.SourceName, m.SourceCategory, m.TargetCategory, m.FeedURL,
		m.IsActive, m.FetchIntervalMinutes, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrMappingConflict
		}
		return fmt.Errorf("マッピングの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はマッピングの設定項目を更新する。テレメトリは更新しない。
// 一意制約違反はCreateと同様にmodel.ErrMappingConflictとして返す。
func (r *PostgresMappingRepo) Update(ctx context.Context, m *model.SourceMapping) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE source_mappings
		 SET source_name = $2, source_category = $3, target_category = $4,
		     feed_url = $5, is_active = $6, fetch_interval_minutes = $7, updated_at = $8
		 WHERE id = $1`,
		m.ID, m.SourceName, m.SourceCategory, m.TargetCategory,
		m.FeedURL, m.IsActive, m.FetchIntervalMinutes, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrMappingConflict
		}
		return fmt.Errorf("マッピングの更新に失敗しました: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return model.ErrMappingNotFound
	}
	return nil
}

// Delete は指定IDのマッピングを削除する。
func (r *PostgresMappingRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM source_mappings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("マッピングの削除に失敗しました: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return model.ErrMappingNotFound
	}
	return nil
}

// UpdateRunTelemetry は1回のフェッチサイクル結果をマッピングに記録する。
func (r *PostgresMappingRepo) UpdateRunTelemetry(
	ctx context.Context,
	id string,
	at time.Time,
	status model.RunStatus,
	errMsg string,
	itemCount int,
) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE source_mappings
		 SET last_scraped_at = $2, last_status = $3, last_error = $4,
		     last_item_count = $5, updated_at = $2
		 WHERE id = $1`,
		id, at, string(status), errMsg, itemCount,
	)
	if err != nil {
		return fmt.Errorf("マッピングテレメトリの更新に失敗しました: %w", err)
	}
	return nil
}
