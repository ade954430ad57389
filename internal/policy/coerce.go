package policy

import (
	"math"
	"strconv"
	"strings"
)

// 更新ボディの値はJSONとフォームの両方から来るため、型をそろえてから保存する。

// StringValue は文字列値を取り出す。
func StringValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// BoolValue は真偽値を取り出す。フォーム由来の "true" / "false" も受け付ける。
func BoolValue(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

// IntValue は整数値を取り出す。JSONの数値（float64）は小数部がない場合のみ受け付ける。
func IntValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// OptionalStringValue はnull許容の文字列値を取り出す。nilと空文字はnilとして返す。
func OptionalStringValue(v any) (*string, bool) {
	if v == nil {
		return nil, true
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	if s == "" {
		return nil, true
	}
	return &s, true
}
