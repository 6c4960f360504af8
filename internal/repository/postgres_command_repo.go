package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

// PostgresCommandRepo はPostgreSQLを使用したコマンドキューリポジトリ。
type PostgresCommandRepo struct {
	db *sql.DB
}

// NewPostgresCommandRepo はPostgresCommandRepoを生成する。
func NewPostgresCommandRepo(db *sql.DB) *PostgresCommandRepo {
	return &PostgresCommandRepo{db: db}
}

const commandColumns = `id, command, argument, status, error, claimed_at, created_at, updated_at`

// scanCommand は1行をBotCommandに読み込む。
func scanCommand(row interface{ Scan(...any) error }) (*model.BotCommand, error) {
	c := &model.BotCommand{}
	var command, status string
	var claimedAt sql.NullTime

	err := row.Scan(&c.ID, &command, &c.Argument, &status, &c.Error, &claimedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Command = model.CommandKind(command)
	c.Status = model.CommandStatus(status)
	if claimedAt.Valid {
		c.ClaimedAt = &claimedAt.Time
	}
	return c, nil
}

// FindByID は指定IDのコマンドを取得する。見つからない場合はnilを返す。
func (r *PostgresCommandRepo) FindByID(ctx context.Context, id string) (*model.BotCommand, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+commandColumns+` FROM bot_commands WHERE id = $1`, id)

	c, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コマンドの取得に失敗しました: %w", err)
	}
	return c, nil
}

// Create はPENDING状態のコマンドを作成する。
func (r *PostgresCommandRepo) Create(ctx context.Context, c *model.BotCommand) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bot_commands (id, command, argument, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, string(c.Command), c.Argument, string(model.CommandStatusPending), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("コマンドの作成に失敗しました: %w", err)
	}
	return nil
}

// ListPending はPENDINGのコマンドを作成順で返す。
func (r *PostgresCommandRepo) ListPending(ctx context.Context, limit int) ([]*model.BotCommand, error) {
	return r.ListByStatus(ctx, model.CommandStatusPending, limit)
}

// ListByStatus は指定状態のコマンドを作成順で返す。
func (r *PostgresCommandRepo) ListByStatus(ctx context.Context, status model.CommandStatus, limit int) ([]*model.BotCommand, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+commandColumns+` FROM bot_commands
		 WHERE status = $1 ORDER BY created_at LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("コマンド一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectCommands(rows)
}

func collectCommands(rows *sql.Rows) ([]*model.BotCommand, error) {
	var commands []*model.BotCommand
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("コマンド行の読み込みに失敗しました: %w", err)
		}
		commands = append(commands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コマンド行の走査に失敗しました: %w", err)
	}
	return commands, nil
}

// Claim はPENDING→PROCESSINGの条件付き更新でコマンドをクレームする。
// WHERE句でstatusを確認するcompare-and-set方式のため、同一コマンドを
// 複数のワーカーが同時にクレームすることはない。更新行数0はクレーム競合。
func (r *PostgresCommandRepo) Claim(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE bot_commands
		 SET status = $2, claimed_at = $3, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		id, string(model.CommandStatusProcessing), at, string(model.CommandStatusPending),
	)
	if err != nil {
		return fmt.Errorf("コマンドのクレームに失敗しました: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return model.ErrCommandClaimConflict
	}
	return nil
}

// Finish はPROCESSINGのコマンドを終端状態へ遷移させる。
func (r *PostgresCommandRepo) Finish(ctx context.Context, id string, status model.CommandStatus, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("終端状態ではありません: %s", status)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE bot_commands
		 SET status = $2, error = $3, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, string(status), errMsg, string(model.CommandStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("コマンドの完了遷移に失敗しました: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return model.ErrCommandNotFound
	}
	return nil
}

// ListStuck はPROCESSINGのままolderThanより古くから滞留しているコマンドを返す。
func (r *PostgresCommandRepo) ListStuck(ctx context.Context, olderThan time.Time) ([]*model.BotCommand, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+commandColumns+` FROM bot_commands
		 WHERE status = $1 AND claimed_at IS NOT NULL AND claimed_at < $2
		 ORDER BY claimed_at`,
		string(model.CommandStatusProcessing), olderThan)
	if err != nil {
		return nil, fmt.Errorf("滞留コマンドの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectCommands(rows)
}

// ForceResolve は滞留コマンドを手動で終端状態へ遷移させる。
// PROCESSING以外の行は対象外とし、通常のライフサイクルと混同しない。
func (r *PostgresCommandRepo) ForceResolve(ctx context.Context, id string, status model.CommandStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("終端状態ではありません: %s", status)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE bot_commands
		 SET status = $2, error = '手動で解決されました', updated_at = now()
		 WHERE id = $1 AND status = $3`,
		id, string(status), string(model.CommandStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("コマンドの手動解決に失敗しました: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return model.ErrStuckCommand
	}
	return nil
}
