package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Orchestration
		"Found %d video channels":                         "%d 個の動画チャンネルが見つかりました",
		"Extracting %d channels with %d jobs":             "%d チャンネルを %d ジョブで抽出中",
		"No %s messages found":                            "%s メッセージが見つかりません",
		"Channel %s not found":                            "チャンネル %s が見つかりません",
		"Channel %s: %s":                                  "チャンネル %s: %s",
		"Output verification failed: %s":                  "出力の検証に失敗しました: %s",
		"Verified %s (%s %dx%d)":                          "%s を検証しました (%s %dx%d)",
		"Interrupted, shutting down...":                   "中断されました。シャットダウン中...",
		"Report written to %s":                            "レポートを %s に書き込みました",
		"Wrote demo recording to %s":                      "デモ録画を %s に書き込みました",
		"%d of %d channels failed":                        "%d / %d チャンネルが失敗しました",
		"All %d channels extracted":                       "%d チャンネルすべての抽出が完了しました",
		"No usable summary in %s (%s), scanning messages": "%s に有効なサマリーがありません (%s)。メッセージを走査します",
		"%s has no chunk index, reading %s in file order": "%s にチャンクインデックスがありません。%s をファイル順に読み込みます",

		// Listing
		"Channel %s mixes formats: %s and %s":    "チャンネル %s で形式が混在しています: %s と %s",
		"Skipping undecodable message on %s: %s": "%s のデコードできないメッセージをスキップします: %s",

		// Extraction driver
		"Extracting %s to %s":                                  "%s を %s に抽出中",
		"Pipeline %s bound to %s":                              "パイプライン %s を %s に割り当てました",
		"Draining %s after %d frames":                          "%[2]d フレーム後に %[1]s をドレイン中",
		"Wrote %d frames of %s to %s":                          "%[2]s の %[1]d フレームを %[3]s に書き込みました",
		"Dropped out of order frame on %s at %d (previous %d)": "%s で順序が逆転したフレームを破棄しました (%d, 直前 %d)",
		"Skipping frames of %s before the first key frame":     "%s の最初のキーフレームより前のフレームをスキップします",
		"Skipped %d frames of %s before the first key frame":   "%[2]s の最初のキーフレームより前の %[1]d フレームをスキップしました",
		"Extraction of %s failed while %s: %s":                 "%s の抽出が %s 中に失敗しました: %s",
		"Pipeline teardown failed: %s":                         "パイプラインの終了処理に失敗しました: %s",

		// In-process pipeline
		"Built %s for %s":                                                 "%[2]s 用に %[1]s を構築しました",
		"Wrote %d bytes to %s":                                            "%[2]s に %[1]d バイト書き込みました",
		"Wrote %d samples in %d fragments":                                "%d サンプルを %d フラグメントに書き込みました",
		"H.264 stream %dx%d":                                              "H.264 ストリーム %dx%d",
		"AV1 stream %dx%d profile %d level %d":                            "AV1 ストリーム %dx%d プロファイル %d レベル %d",
		"Could not read H.265 dimensions: %s":                             "H.265 の解像度を読み取れません: %s",
		"H.264 parameter sets changed mid-stream, keeping the first ones": "H.264 のパラメータセットが途中で変わりました。最初のものを使用します",
		"H.265 parameter sets changed mid-stream, keeping the first ones": "H.265 のパラメータセットが途中で変わりました。最初のものを使用します",
		"Skipping units before the first decoder configuration":           "最初のデコーダ設定より前のユニットをスキップします",
		"Skipped %d units before the first decoder configuration":         "最初のデコーダ設定より前の %d ユニットをスキップしました",
		"Skipping buffer at %s without Annex B start code":                "Annex B スタートコードのない %s のバッファをスキップします",
		"Skipping frames before the first key frame":                      "最初のキーフレームより前のフレームをスキップします",
		"Skipped %d frames before the first key frame":                    "最初のキーフレームより前の %d フレームをスキップしました",
		"Output is not seekable, IVF frame count left at zero":            "出力がシーク不可のため、IVF のフレーム数は 0 のままです",

		// GStreamer backend
		"Element %s: %s": "エレメント %s: %s",
	})
}
