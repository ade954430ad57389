package model

import "testing"

func TestUser_TokenMatches(t *testing.T) {
	token := "3f9a1c"

	tests := []struct {
		name  string
		user  User
		input string
		want  bool
	}{
		{"一致", User{Token: &token}, "3f9a1c", true},
		{"不一致", User{Token: &token}, "3f9a1d", false},
		{"前方一致のみ", User{Token: &token}, "3f9a", false},
		{"空入力", User{Token: &token}, "", false},
		{"未発行", User{}, "3f9a1c", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.TokenMatches(tt.input); got != tt.want {
				t.Errorf("TokenMatches(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
