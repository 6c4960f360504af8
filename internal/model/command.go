// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// BotCommand はオペレータが発行する非同期指示を表す。
// ワーカーがPENDINGのコマンドを原子的にクレームして実行する。
type BotCommand struct {
	ID        string
	Command   CommandKind
	Argument  string // コマンド固有の引数。FORCE_RUNではカンマ区切りのソース名サブセット
	Status    CommandStatus
	Error     string
	ClaimedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CommandKind はコマンドの種別を表す。
type CommandKind string

const (
	// CommandForceRun は全アクティブソース（または指定サブセット）の即時実行を指示する。
	CommandForceRun CommandKind = "FORCE_RUN"
	// CommandPurgeBoilerplate は定型文に汚染された既存記事の遡及パージを指示する。
	CommandPurgeBoilerplate CommandKind = "PURGE_BOILERPLATE"
	// CommandSliderRepair は画像を失った記事のスライダーフラグ修復を指示する。
	CommandSliderRepair CommandKind = "SLIDER_REPAIR"
)

// IsValid はサポートされているコマンド種別かどうかを返す。
func (k CommandKind) IsValid() bool {
	switch k {
	case CommandForceRun, CommandPurgeBoilerplate, CommandSliderRepair:
		return true
	}
	return false
}

// CommandStatus はコマンドのライフサイクル状態を表す。
// PENDING → PROCESSING → COMPLETED が正常系で、FAILEDが異常系の終端状態。
// 終端状態からの遷移はオペレータの明示的な復旧操作でのみ発生する。
type CommandStatus string

const (
	// CommandStatusPending はクレーム待ちの状態。
	CommandStatusPending CommandStatus = "PENDING"
	// CommandStatusProcessing はワーカーがクレーム済みで実行中の状態。
	CommandStatusProcessing CommandStatus = "PROCESSING"
	// CommandStatusCompleted は正常終了の終端状態。
	CommandStatusCompleted CommandStatus = "COMPLETED"
	// CommandStatusFailed は異常終了の終端状態。
	CommandStatusFailed CommandStatus = "FAILED"
)

// IsTerminal は終端状態かどうかを返す。
func (s CommandStatus) IsTerminal() bool {
	return s == CommandStatusCompleted || s == CommandStatusFailed
}

// SourceSubset はFORCE_RUNの引数をソース名のスライスに分解する。
// 引数が空の場合はnilを返し、全アクティブソースが対象となる。
func (c *BotCommand) SourceSubset() []string {
	if c.Argument == "" {
		return nil
	}
	var sources []string
	for _, s := range strings.Split(c.Argument, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			sources = append(sources, s)
		}
	}
	return sources
}
