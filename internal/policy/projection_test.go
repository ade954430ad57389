package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleUserRecord() Record {
	token := "tok"
	return Record{
		"_id":       "u1",
		"email":     "a@b.com",
		"password":  "digest",
		"token":     &token,
		"active":    true,
		"firstname": "A",
		"lastname":  "B",
		"role":      3,
		"createdAt": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"updatedAt": time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func keys(r Record) map[string]bool {
	out := make(map[string]bool, len(r))
	for k := range r {
		out[k] = true
	}
	return out
}

func TestProject_Only(t *testing.T) {
	got := Project(sampleUserRecord(), []string{"email", "firstname", "missing"}, ModeOnly, UserResource.Canonical)

	assert.Equal(t, Record{"email": "a@b.com", "firstname": "A"}, got)
	_, hasMissing := got["missing"]
	assert.False(t, hasMissing, "absent fields must not be inserted")
}

func TestProject_Except(t *testing.T) {
	got := Project(sampleUserRecord(), UserResource.Private, ModeExcept, UserResource.Canonical)

	for _, f := range UserResource.Private {
		assert.NotContains(t, got, f)
	}
	assert.Equal(t, "a@b.com", got["email"])
	// usernameは正準フィールドだがレコードに無いので出力にも無い
	assert.NotContains(t, got, "username")
}

func TestProject_AllAndEmptyList(t *testing.T) {
	rec := sampleUserRecord()

	assert.Equal(t, rec, Project(rec, []string{"email"}, ModeAll, UserResource.Canonical))
	assert.Equal(t, rec, Project(rec, nil, ModeOnly, UserResource.Canonical))
	assert.Equal(t, rec, Project(rec, []string{}, ModeExcept, UserResource.Canonical))
}

// TestProject_DoesNotMutateInputs は入力レコードと正準リストを変更しないことを検証する。
func TestProject_DoesNotMutateInputs(t *testing.T) {
	rec := sampleUserRecord()
	canonical := append([]string(nil), UserResource.Canonical...)

	out := Project(rec, []string{"password"}, ModeExcept, canonical)
	out["email"] = "changed"

	assert.Equal(t, "a@b.com", rec["email"])
	assert.Equal(t, UserResource.Canonical, canonical)
	assert.Len(t, rec, 10)
}

// TestProject_Idempotent は Only 射影を2回適用しても結果が変わらないことを検証する。
func TestProject_Idempotent(t *testing.T) {
	lists := [][]string{
		{"email"},
		{"email", "password", "role"},
		{"nope"},
		UserResource.Canonical,
	}
	for _, l := range lists {
		once := Project(sampleUserRecord(), l, ModeOnly, UserResource.Canonical)
		twice := Project(once, l, ModeOnly, UserResource.Canonical)
		assert.Equal(t, once, twice, "list %v", l)
	}
}

// TestProject_Complementarity は Only(L) と Except(L) が重複せず、和が F∩keys(r) に一致することを検証する。
func TestProject_Complementarity(t *testing.T) {
	canonical := UserResource.Canonical
	rec := sampleUserRecord()

	want := make(map[string]bool)
	for _, f := range canonical {
		if _, ok := rec[f]; ok {
			want[f] = true
		}
	}

	lists := [][]string{
		{"email"},
		{"password", "token", "active", "role"},
		{"_id", "username"},
		canonical[:1],
		{"notAField"},
	}
	for _, l := range lists {
		only := keys(Project(rec, l, ModeOnly, canonical))
		except := keys(Project(rec, l, ModeExcept, canonical))

		union := make(map[string]bool)
		for k := range only {
			assert.False(t, except[k], "field %s appears in both halves for %v", k, l)
			union[k] = true
		}
		for k := range except {
			union[k] = true
		}
		assert.Equal(t, want, union, "list %v", l)
	}
}
