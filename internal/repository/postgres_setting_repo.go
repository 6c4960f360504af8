package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/newsdesk/internal/model"
)

// PostgresSettingRepo はPostgreSQLを使用したボット設定リポジトリ。
type PostgresSettingRepo struct {
	db *sql.DB
}

// NewPostgresSettingRepo はPostgresSettingRepoを生成する。
func NewPostgresSettingRepo(db *sql.DB) *PostgresSettingRepo {
	return &PostgresSettingRepo{db: db}
}

// FindBySource は指定ソースの設定を取得する。見つからない場合はnilを返す。
func (r *PostgresSettingRepo) FindBySource(ctx context.Context, sourceName string) (*model.BotSetting, error) {
	s := &model.BotSetting{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, source_name, auto_publish, boilerplate_patterns, updated_at
		 FROM bot_settings WHERE source_name = $1`,
		sourceName,
	).Scan(&s.ID, &s.SourceName, &s.AutoPublish, pq.Array(&s.BoilerplatePatterns), &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ボット設定の取得に失敗しました: %w", err)
	}
	return s, nil
}

// List は全設定をsource_name順で返す。
func (r *PostgresSettingRepo) List(ctx context.Context) ([]*model.BotSetting, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source_name, auto_publish, boilerplate_patterns, updated_at
		 FROM bot_settings ORDER BY source_name`)
	if err != nil {
		return nil, fmt.Errorf("ボット設定一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var settings []*model.BotSetting
	for rows.Next() {
		s := &model.BotSetting{}
		if err := rows.Scan(&s.ID, &s.SourceName, &s.AutoPublish, pq.Array(&s.BoilerplatePatterns), &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ボット設定行の読み込みに失敗しました: %w", err)
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ボット設定行の走査に失敗しました: %w", err)
	}
	return settings, nil
}

// Upsert はソース設定を冪等にUPSERTする。
// source_nameの一意制約を利用したON CONFLICT更新を行う。
func (r *PostgresSettingRepo) Upsert(ctx context.Context, s *model.BotSetting) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bot_settings (id, source_name, auto_publish, boilerplate_patterns, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source_name) DO UPDATE
		 SET auto_publish = EXCLUDED.auto_publish,
		     boilerplate_patterns = EXCLUDED.boilerplate_patterns,
		     updated_at = EXCLUDED.updated_at`,
		s.ID, s.SourceName, s.AutoPublish, pq.Array(s.BoilerplatePatterns), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ボット設定のUPSERTに失敗しました: %w", err)
	}
	return nil
}
