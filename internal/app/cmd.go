package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れトークンの掃除ワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateDirection はマイグレーションの方向。
type MigrateDirection string

const (
	MigrateUp   MigrateDirection = "up"
	MigrateDown MigrateDirection = "down"
)

// MigrateOptions は migrate サブコマンドの引数。
type MigrateOptions struct {
	Direction MigrateDirection
	Steps     int // down のときに戻すステップ数
}

// ParseMigrateArgs は "migrate" に続く引数を解析する。
//
//	migrate            → up
//	migrate up         → up
//	migrate down [N]   → N ステップ戻す（省略時は1）
func ParseMigrateArgs(args []string) (MigrateOptions, error) {
	if len(args) == 0 {
		return MigrateOptions{Direction: MigrateUp}, nil
	}

	switch MigrateDirection(args[0]) {
	case MigrateUp:
		return MigrateOptions{Direction: MigrateUp}, nil
	case MigrateDown:
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return MigrateOptions{}, fmt.Errorf("invalid rollback steps: %q", args[1])
			}
			steps = n
		}
		return MigrateOptions{Direction: MigrateDown, Steps: steps}, nil
	default:
		return MigrateOptions{}, fmt.Errorf("unknown migrate direction: %q", args[0])
	}
}
