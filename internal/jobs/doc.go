// Package jobs は非同期ジョブのライフサイクル管理を提供します。
//
// ジョブ本体は Record を埋め込んだ GORM モデルとして永続化され、
// 実行はタスクキュー（Queue）経由で別プロセスのワーカーに委ねられます。
//
// 状態遷移:
//
//	new -> pending -> started -> success | failure
//	pending | started -> revoked（外部からの取り消し）
//
// 1つのジョブ種別に登録できるハンドラーは1つだけです。ワーカー側の実行ラッパーは
// メモリ上のレコードを信用せず、毎回ストアから読み直してから更新します。
// 更新は変更した列のみを書き込みます。
package jobs
