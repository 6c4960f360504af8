package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/newsdesk/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// isUniqueViolation はエラーが一意制約違反(SQLSTATE 23505)かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresNewsRepo はPostgreSQLを使用したニュース記事リポジトリ。
type PostgresNewsRepo struct {
	db *sql.DB
}

// NewPostgresNewsRepo はPostgresNewsRepoを生成する。
func NewPostgresNewsRepo(db *sql.DB) *PostgresNewsRepo {
	return &PostgresNewsRepo{db: db}
}

const newsColumns = `id, source_name, category, title, summary, content,
	original_url, image_url, is_published, is_slider, published_at, created_at, updated_at`

// scanNews は1行をNewsに読み込む。
func scanNews(row interface{ Scan(...any) error }) (*model.News, error) {
	n := &model.News{}
	var publishedAt sql.NullTime

	err := row.Scan(
		&n.ID, &n.SourceName, &n.Category, &n.Title, &n.Summary, &n.Content,
		&n.OriginalURL, &n.ImageURL, &n.IsPublished, &n.IsSlider,
		&publishedAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if publishedAt.Valid {
		n.PublishedAt = &publishedAt.Time
	}
	return n, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresNewsRepo) FindByID(ctx context.Context, id string) (*model.News, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+newsColumns+` FROM news WHERE id = $1`, id)

	n, err := scanNews(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return n, nil
}

// ExistsByOriginalURL は (source_name, original_url) の記事が既に存在するかを返す。
func (r *PostgresNewsRepo) ExistsByOriginalURL(ctx context.Context, sourceName, originalURL string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM news WHERE source_name = $1 AND original_url = $2)`,
		sourceName, originalURL,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("original_urlによる存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create は新規記事を作成する。
// (source_name, original_url) の一意制約違反はmodel.ErrDuplicateItemとして返す。
func (r *PostgresNewsRepo) Create(ctx context.Context, n *model.News) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO news
		   (id, source_name, category, title, summary, content, original_url,
		    image_url, is_published, is_slider, published_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		n.ID, n.SourceName, n.Category, n.Title, n.Summary, n.Content, n.OriginalURL,
		n.ImageURL, n.IsPublished, n.IsSlider, nullableTime(n.PublishedAt), n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicateItem
		}
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は記事を上書き更新する。
func (r *PostgresNewsRepo) Update(ctx context.Context, n *model.News) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE news
		 SET category = $2, title = $3, summary = $4, content = $5,
		     image_url = $6, is_published = $7, is_slider = $8,
		     published_at = $9, updated_at = $10
		 WHERE id = $1`,
		n.ID, n.Category, n.Title, n.Summary, n.Content,
		n.ImageURL, n.IsPublished, n.IsSlider,
		nullableTime(n.PublishedAt), n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return model.ErrNewsNotFound
	}
	return nil
}

// List はフィルタ条件に合致する記事をpublished_at, created_at降順で返す。
func (r *PostgresNewsRepo) List(ctx context.Context, filter model.NewsFilter) ([]*model.News, error) {
	query := `SELECT ` + newsColumns + ` FROM news WHERE 1=1`
	var args []any

	if filter.SourceName != "" {
		args = append(args, filter.SourceName)
		query += fmt.Sprintf(" AND source_name = $%d", len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.PublishedOnly {
		query += " AND is_published"
	}
	if filter.SliderOnly {
		query += " AND is_slider"
	}

	query += " ORDER BY published_at DESC NULLS LAST, created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.News
	for rows.Next() {
		n, err := scanNews(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み込みに失敗しました: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事行の走査に失敗しました: %w", err)
	}
	return items, nil
}

// Delete は指定IDの記事を削除する。依存する見出し枠はCASCADE削除される。
func (r *PostgresNewsRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM news WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("記事の削除に失敗しました: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return model.ErrNewsNotFound
	}
	return nil
}

// ClearOrphanedSliders は画像を持たない記事のis_sliderを一括で落とす。
// is_slider=true ⇒ image_urlが空でない、という不変条件の修復スイープ。
func (r *PostgresNewsRepo) ClearOrphanedSliders(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE news SET is_slider = FALSE, updated_at = now()
		 WHERE is_slider AND image_url = ''`)
	if err != nil {
		return 0, fmt.Errorf("スライダーフラグの修復に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// MarkSliderBySource は指定ソース・指定期間の公開済み・画像付き記事に
// is_sliderを一括設定する。
func (r *PostgresNewsRepo) MarkSliderBySource(ctx context.Context, sourceName string, since time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE news SET is_slider = TRUE, updated_at = now()
		 WHERE source_name = $1 AND created_at >= $2
		   AND is_published AND image_url <> '' AND NOT is_slider`,
		sourceName, since)
	if err != nil {
		return 0, fmt.Errorf("スライダーフラグの一括設定に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// DeleteByBoilerplate は本文または要約に指定パターンを含む指定ソースの記事を削除する。
func (r *PostgresNewsRepo) DeleteByBoilerplate(ctx context.Context, sourceName, pattern string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM news
		 WHERE source_name = $1 AND (summary LIKE $2 OR content LIKE $2)`,
		sourceName, "%"+pattern+"%")
	if err != nil {
		return 0, fmt.Errorf("定型文記事のパージに失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// nullableTime は*time.Timeをsql.NullTimeに変換する。
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
