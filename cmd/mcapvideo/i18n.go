// Package main provides localization for the mcapvideo CLI.
package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		"Extract compressed video channels from MCAP recordings.": "MCAP 録画から圧縮動画チャンネルを抽出します。",

		// Commands
		"List or extract the video channels of an MCAP recording.": "MCAP 録画の動画チャンネルを一覧表示または抽出",
		"Write a demo MCAP recording.":                             "デモ用の MCAP 録画を書き出す",
		"Show version information.":                                "バージョン情報を表示",
		"mcapvideo version %s":                                     "mcapvideo バージョン %s",
	})
}
