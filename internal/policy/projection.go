// Package policy はロール別のフィールド可視性と更新可否の判定を提供する。
// 判定はすべて純粋関数で、ストアには触れない。
package policy

// Mode は射影の方式を表す。
type Mode int

const (
	// ModeAll はレコードをそのまま通す。
	ModeAll Mode = iota
	// ModeOnly は指定フィールドだけを残す。
	ModeOnly
	// ModeExcept は正準フィールドから指定フィールドを除いたものを残す。
	ModeExcept
)

// Record はワイヤー名をキーとするレコード表現。
type Record map[string]any

// Project はレコードのフィールド限定ビューを返す。
// 入力のrecordとcanonicalは変更しない。フィールドが空の場合はModeAllと同じ。
// レコードに存在しないキーは出力に含めない（nullを補わない）。
func Project(record Record, fields []string, mode Mode, canonical []string) Record {
	if mode == ModeAll || len(fields) == 0 {
		return copyRecord(record)
	}

	out := make(Record, len(record))
	switch mode {
	case ModeOnly:
		for _, f := range fields {
			if v, ok := record[f]; ok {
				out[f] = v
			}
		}
	case ModeExcept:
		denied := make(map[string]struct{}, len(fields))
		for _, f := range fields {
			denied[f] = struct{}{}
		}
		for _, f := range canonical {
			if _, skip := denied[f]; skip {
				continue
			}
			if v, ok := record[f]; ok {
				out[f] = v
			}
		}
	default:
		return copyRecord(record)
	}
	return out
}

func copyRecord(record Record) Record {
	out := make(Record, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}
