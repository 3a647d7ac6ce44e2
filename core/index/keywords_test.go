package index

import (
	"bytes"
	"testing"
)

const sampleTermDoc = `
# sample term-document list
go : 1, 2, 5
rust : 2, 3
--- old format, ignored by comment rule
lua : \
  4, 5, 6
`

func TestParseTermDocList(t *testing.T) {
	entries, err := ParseTermDocList([]byte(sampleTermDoc))
	if err != nil {
		t.Fatalf("ParseTermDocList: %v", err)
	}
	want := map[string][]string{
		"go":   {"1", "2", "5"},
		"rust": {"2", "3"},
		"lua":  {"4", "5", "6"},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for _, e := range entries {
		if !intSlicesEqualStr(e.IDs, want[e.Term]) {
			t.Errorf("term %q: got ids %v want %v", e.Term, e.IDs, want[e.Term])
		}
	}
}

func intSlicesEqualStr(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestKeywordsSearchRoundTrip(t *testing.T) {
	entries, err := ParseTermDocList([]byte(sampleTermDoc))
	if err != nil {
		t.Fatalf("ParseTermDocList: %v", err)
	}

	nrows := 8
	d, bitmaps, err := BuildKeywordsIndex(nrows, entries, nil)
	if err != nil {
		t.Fatalf("BuildKeywordsIndex: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteKeywordsIndex(&buf, nrows, d, bitmaps); err != nil {
		t.Fatalf("WriteKeywordsIndex: %v", err)
	}

	fm, path := writeTempIndex(t, "keywords.idx", buf.Bytes())
	k, err := OpenKeywords(fm, path)
	if err != nil {
		t.Fatalf("OpenKeywords: %v", err)
	}
	defer k.ib.Close()

	goBV, err := k.Search("go")
	if err != nil {
		t.Fatalf("Search(go): %v", err)
	}
	if got, want := bitsSet(goBV), []int{1, 2, 5}; !intSlicesEqual(got, want) {
		t.Errorf("Search(go): got %v want %v", got, want)
	}

	missing, err := k.Search("nonexistent")
	if err != nil {
		t.Fatalf("Search(nonexistent): %v", err)
	}
	if missing.Cnt() != 0 {
		t.Errorf("Search(nonexistent): got %d rows set, want 0", missing.Cnt())
	}

	any, err := k.AnyTerm()
	if err != nil {
		t.Fatalf("AnyTerm: %v", err)
	}
	want := []int{1, 2, 3, 4, 5, 6}
	if got := bitsSet(any); !intSlicesEqual(got, want) {
		t.Errorf("AnyTerm: got %v want %v", got, want)
	}

	orBV, err := k.SearchAny([]string{"go", "rust"})
	if err != nil {
		t.Fatalf("SearchAny: %v", err)
	}
	wantOr := []int{1, 2, 3, 5}
	if got := bitsSet(orBV); !intSlicesEqual(got, wantOr) {
		t.Errorf("SearchAny([go,rust]): got %v want %v", got, wantOr)
	}
}

func TestKeywordsIDColumnRemapping(t *testing.T) {
	entries := []TermDocEntry{
		{Term: "alpha", IDs: []string{"100", "300"}},
	}
	idColumn := []uint64{100, 200, 300, 400}
	d, bitmaps, err := BuildKeywordsIndex(len(idColumn), entries, idColumn)
	if err != nil {
		t.Fatalf("BuildKeywordsIndex: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteKeywordsIndex(&buf, len(idColumn), d, bitmaps); err != nil {
		t.Fatalf("WriteKeywordsIndex: %v", err)
	}
	fm, path := writeTempIndex(t, "keywords_remap.idx", buf.Bytes())
	k, err := OpenKeywords(fm, path)
	if err != nil {
		t.Fatalf("OpenKeywords: %v", err)
	}
	defer k.ib.Close()

	bv, err := k.Search("alpha")
	if err != nil {
		t.Fatalf("Search(alpha): %v", err)
	}
	want := []int{0, 2} // raw ids 100,300 map to sorted positions 0,2
	if got := bitsSet(bv); !intSlicesEqual(got, want) {
		t.Errorf("Search(alpha): got %v want %v", got, want)
	}
}
