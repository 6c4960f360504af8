// Package command はコマンドキューのドメインロジックを提供する。
// オペレータが発行した非同期指示を、複数ワーカー間で二重実行されない形で
// クレーム・完了・復旧する。
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/repository"
)

// Service はコマンドキューのサービス。
type Service struct {
	commandRepo  repository.CommandRepository
	stuckTimeout time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
// stuckTimeoutはPROCESSINGのまま滞留とみなすまでの経過時間。
func NewService(commandRepo repository.CommandRepository, stuckTimeout time.Duration) *Service {
	return &Service{
		commandRepo:  commandRepo,
		stuckTimeout: stuckTimeout,
	}
}

// Submit は新しいコマンドをPENDING状態でキューに登録する。
// 未サポートのコマンド種別は拒否される。
func (s *Service) Submit(ctx context.Context, kind model.CommandKind, argument string) (*model.BotCommand, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("未サポートのコマンド種別です: %s", kind)
	}

	now := time.Now()
	cmd := &model.BotCommand{
		ID:        uuid.New().String(),
		Command:   kind,
		Argument:  argument,
		Status:    model.CommandStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.commandRepo.Create(ctx, cmd); err != nil {
		return nil, fmt.Errorf("コマンドの登録に失敗しました: %w", err)
	}

	slog.Info("コマンドを登録",
		"command_id", cmd.ID,
		"command", string(kind),
		"argument", argument,
	)
	return cmd, nil
}

// Get は指定IDのコマンドを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.BotCommand, error) {
	cmd, err := s.commandRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("コマンドの取得に失敗しました: %w", err)
	}
	if cmd == nil {
		return nil, fmt.Errorf("コマンド %s: %w", id, model.ErrCommandNotFound)
	}
	return cmd, nil
}

// ListPending はクレーム待ちのコマンドを作成順で返す。
func (s *Service) ListPending(ctx context.Context, limit int) ([]*model.BotCommand, error) {
	return s.commandRepo.ListPending(ctx, limit)
}

// ListByStatus は指定状態のコマンドを作成順で返す。オペレータ画面用。
func (s *Service) ListByStatus(ctx context.Context, status model.CommandStatus, limit int) ([]*model.BotCommand, error) {
	cmds, err := s.commandRepo.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("コマンド一覧の取得に失敗しました: %w", err)
	}
	return cmds, nil
}

// Claim はPENDINGのコマンドを原子的にクレームする。
// 別ワーカーに先行された場合はmodel.ErrCommandClaimConflictを返し、
// 呼び出し側はそのコマンドを単にスキップする。
func (s *Service) Claim(ctx context.Context, id string) error {
	return s.commandRepo.Claim(ctx, id, time.Now())
}

// Complete はクレーム済みコマンドを正常終了させる。
func (s *Service) Complete(ctx context.Context, id string) error {
	if err := s.commandRepo.Finish(ctx, id, model.CommandStatusCompleted, ""); err != nil {
		return fmt.Errorf("コマンドの完了記録に失敗しました: %w", err)
	}
	return nil
}

// Fail はクレーム済みコマンドをエラーテキスト付きで異常終了させる。
func (s *Service) Fail(ctx context.Context, id string, cause error) error {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	if err := s.commandRepo.Finish(ctx, id, model.CommandStatusFailed, errMsg); err != nil {
		return fmt.Errorf("コマンドの失敗記録に失敗しました: %w", err)
	}
	return nil
}

// ListStuck はPROCESSINGのままタイムアウトを超えて滞留している
// コマンドを返す。診断用であり、自動解決は行わない。
func (s *Service) ListStuck(ctx context.Context) ([]*model.BotCommand, error) {
	olderThan := time.Now().Add(-s.stuckTimeout)
	stuck, err := s.commandRepo.ListStuck(ctx, olderThan)
	if err != nil {
		return nil, fmt.Errorf("滞留コマンドの取得に失敗しました: %w", err)
	}
	return stuck, nil
}

// ForceResolve は滞留コマンドをオペレータの指示で終端状態へ遷移させる。
// 終端状態以外への遷移は認めない。
func (s *Service) ForceResolve(ctx context.Context, id string, status model.CommandStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("終端状態以外への解決はできません: %s", status)
	}

	if err := s.commandRepo.ForceResolve(ctx, id, status); err != nil {
		return fmt.Errorf("滞留コマンドの手動解決に失敗しました: %w", err)
	}

	slog.Warn("滞留コマンドを手動解決",
		"command_id", id,
		"status", string(status),
	)
	return nil
}
