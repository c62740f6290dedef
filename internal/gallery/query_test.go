package gallery

import "testing"

func TestQueryBuilderDoesNotMutateReceiver(t *testing.T) {
	base := NewQuery()
	derived := base.WithFilter(FilterSearchText, "linter").
		WithFlags(FlagIncludeVersions).
		WithPage(2, 25)

	if len(base.Criteria()) != 0 {
		t.Errorf("base criteria mutated: %+v", base.Criteria())
	}
	if len(base.Flags()) != 0 {
		t.Errorf("base flags mutated: %+v", base.Flags())
	}
	if base.PageNumber() != 1 || base.PageSize() != DefaultPageSize {
		t.Errorf("base paging mutated: %d/%d", base.PageNumber(), base.PageSize())
	}

	if derived.PageNumber() != 2 || derived.PageSize() != 25 {
		t.Errorf("derived paging = %d/%d, want 2/25", derived.PageNumber(), derived.PageSize())
	}
	if got := derived.CriteriaValues(FilterSearchText); len(got) != 1 || got[0] != "linter" {
		t.Errorf("derived search text = %v", got)
	}
}

func TestWithFlagsDeduplicates(t *testing.T) {
	q := NewQuery().
		WithFlags(FlagIncludeVersions, FlagIncludeFiles).
		WithFlags(FlagIncludeFiles, FlagIncludeStatistics)

	want := []string{FlagIncludeVersions, FlagIncludeFiles, FlagIncludeStatistics}
	got := q.Flags()
	if len(got) != len(want) {
		t.Fatalf("Flags() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Flags()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWithFilterAppendsOneCriterionPerValue(t *testing.T) {
	q := NewQuery().WithFilter(FilterExtensionName, "a.x", "b.y")
	if len(q.Criteria()) != 2 {
		t.Fatalf("criteria count = %d, want 2", len(q.Criteria()))
	}
}

func TestParseSearchTextStripsTokens(t *testing.T) {
	text, categories, featured := parseSearchText("category:themes featured")
	if text != "" {
		t.Errorf("remainder = %q, want empty", text)
	}
	if len(categories) != 1 || categories[0] != "themes" {
		t.Errorf("categories = %v, want [themes]", categories)
	}
	if !featured {
		t.Error("featured token not recognized")
	}

	text, categories, featured = parseSearchText(`git blame category:"linters"`)
	if text != "git blame" {
		t.Errorf("remainder = %q, want %q", text, "git blame")
	}
	if len(categories) != 1 || categories[0] != "linters" {
		t.Errorf("categories = %v, want [linters]", categories)
	}
	if featured {
		t.Error("featured reported without token")
	}
}
