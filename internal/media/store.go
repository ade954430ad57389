// Package media はフィギュア・ストーリーに添付する画像のステージングとプロモートを扱う。
//
// アップロードはレコード作成前に行われるため、まず「<ownerID>-<kind>」をキーとする
// ステージング領域に置き、レコード作成後に「<kind>/<recordID>」へ移動する。
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind はメディアを添付するリソースの種類。
type Kind string

const (
	KindFigure Kind = "figure"
	KindStory  Kind = "story"
)

// Valid は既知の種類かどうかを返す。
func (k Kind) Valid() bool {
	return k == KindFigure || k == KindStory
}

// ErrInvalidKey はステージングキーや保存先に使えない文字列が渡されたことを示す。
var ErrInvalidKey = errors.New("invalid media key")

// Object はストアに保存された1ファイルのメタデータ。
type Object struct {
	Name        string // ディレクトリ（プレフィックス）内のファイル名
	ContentType string
	Size        int64
	ModTime     time.Time
}

// StagedEntry はステージング領域の1キー分の情報。クリーンアップで使う。
type StagedEntry struct {
	Key     string
	ModTime time.Time
}

// Store はメディアの保存先を抽象化する。
// ステージングキーと保存先はどちらも1ファイルだけを保持するディレクトリとして扱う。
// 見つからない場合は (nil, nil) を返す。
type Store interface {
	// Stage はstagingKeyの内容を置き換えて保存する。
	Stage(ctx context.Context, stagingKey string, obj Object, data []byte) error
	// Staged はstagingKeyにステージ済みのオブジェクトを返す。
	Staged(ctx context.Context, stagingKey string) (*Object, error)
	// Move はstagingKeyの内容をdestへ移動する。destの既存内容は置き換える。
	Move(ctx context.Context, stagingKey, dest string) (*Object, error)
	// Lookup はdestに保存されたオブジェクトを返す。
	Lookup(ctx context.Context, dest string) (*Object, error)
	// Remove はdestの内容を削除する。存在しなくてもエラーにしない。
	Remove(ctx context.Context, dest string) error
	// ListStaged はステージング領域の全キーを返す。
	ListStaged(ctx context.Context) ([]StagedEntry, error)
	// Discard はstagingKeyの内容を削除する。
	Discard(ctx context.Context, stagingKey string) error
}

// StagingKey は所有者と種類からステージングキーを組み立てる。
func StagingKey(ownerID string, kind Kind) string {
	return ownerID + "-" + string(kind)
}

// Destination はレコードIDからプロモート先を組み立てる。
func Destination(kind Kind, recordID string) string {
	return string(kind) + "/" + recordID
}

// validateSegment はパス区切りや相対参照を含まない1要素であることを検証する。
func validateSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return nil
}

// validateDestination は「<kind>/<id>」形式であることを検証する。
func validateDestination(dest string) error {
	kind, id, ok := strings.Cut(dest, "/")
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKey, dest)
	}
	if err := validateSegment(kind); err != nil {
		return err
	}
	return validateSegment(id)
}

// extensions はファイル名に使う拡張子。受け付けるMIMEタイプはこの3種類のみ。
var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// contentTypeFromName は保存名の拡張子からMIMEタイプを復元する。
func contentTypeFromName(name string) string {
	for ct, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return ct
		}
	}
	return "application/octet-stream"
}

// objectName は保存時のファイル名を返す。
func objectName(contentType string) string {
	return "image" + extensions[contentType]
}
