package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はステージング削除ワーカーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はMongoDBのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// commands はサブコマンドと説明の一覧。Usageの表示順を兼ねる。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "APIサーバーを起動する（デフォルト）"},
	{CommandWorker, "確定されなかったステージング画像を定期的に削除する"},
	{CommandMigrate, "MongoDBのインデックスを作成・更新する"},
	{CommandHealthcheck, "ローカルの /health を確認する"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	for _, c := range commands {
		if string(c.cmd) == args[0] {
			return c.cmd
		}
	}
	return CommandServe
}

// Usage はサブコマンドの一覧を返す。
func Usage(program string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "usage: %s [command]\n\ncommands:\n", program)
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-12s %s\n", c.cmd, c.desc)
	}
	return b.String()
}
