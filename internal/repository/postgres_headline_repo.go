package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/newsdesk/internal/model"
)

// PostgresHeadlineRepo はPostgreSQLを使用した見出し枠リポジトリ。
type PostgresHeadlineRepo struct {
	db *sql.DB
}

// NewPostgresHeadlineRepo はPostgresHeadlineRepoを生成する。
func NewPostgresHeadlineRepo(db *sql.DB) *PostgresHeadlineRepo {
	return &PostgresHeadlineRepo{db: db}
}

// List は全見出し枠を記事情報付きでslot_type, rank順に返す。
func (r *PostgresHeadlineRepo) List(ctx context.Context) ([]model.HeadlineWithNews, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT h.id, h.slot_type, h.rank, h.news_id, h.created_at,
		        n.title, n.category, n.image_url
		 FROM headline_slots h
		 JOIN news n ON n.id = h.news_id
		 ORDER BY h.slot_type, h.rank`)
	if err != nil {
		return nil, fmt.Errorf("見出し枠一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var slots []model.HeadlineWithNews
	for rows.Next() {
		var h model.HeadlineWithNews
		var slotType string
		if err := rows.Scan(
			&h.ID, &slotType, &h.Rank, &h.NewsID, &h.CreatedAt,
			&h.Title, &h.Category, &h.ImageURL,
		); err != nil {
			return nil, fmt.Errorf("見出し枠行の読み込みに失敗しました: %w", err)
		}
		h.SlotType = model.SlotType(slotType)
		slots = append(slots, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("見出し枠行の走査に失敗しました: %w", err)
	}
	return slots, nil
}

// FindByID は指定IDの見出し枠を取得する。見つからない場合はnilを返す。
func (r *PostgresHeadlineRepo) FindByID(ctx context.Context, id string) (*model.HeadlineSlot, error) {
	slot := &model.HeadlineSlot{}
	var slotType string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, slot_type, rank, news_id, created_at FROM headline_slots WHERE id = $1`,
		id,
	).Scan(&slot.ID, &slotType, &slot.Rank, &slot.NewsID, &slot.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("見出し枠の取得に失敗しました: %w", err)
	}

	slot.SlotType = model.SlotType(slotType)
	return slot, nil
}

// Assign は指定ランクへ記事を割り当てる。
// (slot_type, rank) の一意制約に対するON CONFLICT更新で既存占有者を置き換えるため、
// 同一ランクに重複した割り当ては作られない。置き換えの場合は既存行のIDが
// 残るため、RETURNINGで実際の行IDをslot.IDへ書き戻す。
func (r *PostgresHeadlineRepo) Assign(ctx context.Context, slot *model.HeadlineSlot) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO headline_slots (id, slot_type, rank, news_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (slot_type, rank) DO UPDATE
		 SET news_id = EXCLUDED.news_id, created_at = EXCLUDED.created_at
		 RETURNING id`,
		slot.ID, string(slot.SlotType), slot.Rank, slot.NewsID, slot.CreatedAt,
	).Scan(&slot.ID)
	if err != nil {
		return fmt.Errorf("見出し枠の割り当てに失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDの見出し枠を削除する。
// 存在しないIDの場合はmodel.ErrHeadlineNotFoundを返す。
func (r *PostgresHeadlineRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM headline_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("見出し枠の削除に失敗しました: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return model.ErrHeadlineNotFound
	}
	return nil
}

// DeleteByNewsID は指定記事の全見出し枠を削除する。
func (r *PostgresHeadlineRepo) DeleteByNewsID(ctx context.Context, newsID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM headline_slots WHERE news_id = $1`, newsID)
	if err != nil {
		return fmt.Errorf("記事に紐づく見出し枠の削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteImageRequiredWithoutImage は画像必須の枠種別に割り当てられたまま
// 記事の画像が失われた行を削除する。
func (r *PostgresHeadlineRepo) DeleteImageRequiredWithoutImage(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM headline_slots h
		 USING news n
		 WHERE h.news_id = n.id AND h.slot_type = $1 AND n.image_url = ''`,
		string(model.SlotTypePrimary))
	if err != nil {
		return 0, fmt.Errorf("画像なし見出し枠の修復に失敗しました: %w", err)
	}
	return result.RowsAffected()
}
