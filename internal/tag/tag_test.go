package tag

import (
	"strings"
	"testing"
)

func TestGenerate_Deterministic(t *testing.T) {
	t.Parallel()

	first, err := Generate("post-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := Generate("post-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if first != second {
		t.Fatalf("same id yielded %s and %s", first, second)
	}

	other, err := Generate("post-2")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if other == first {
		t.Fatal("different ids yielded the same tag")
	}
}

func TestGenerate_Shape(t *testing.T) {
	t.Parallel()

	got, err := Generate("550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(got, "#pw") {
		t.Fatalf("tag %s missing prefix", got)
	}
	if len(got) != len("#pw")+hashChars {
		t.Fatalf("tag %s has wrong length", got)
	}
	if _, ok := Detect(got); !ok {
		t.Fatalf("generated tag %s does not match its own pattern", got)
	}
}

func TestGenerate_EmptyID(t *testing.T) {
	t.Parallel()

	if _, err := Generate("  "); err == nil {
		t.Fatal("expected error for blank post id")
	}
}

func TestAppendAndDetect(t *testing.T) {
	t.Parallel()

	tag, err := Generate("post-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	caption := Append("check out our new drop", tag)
	if !strings.HasSuffix(caption, "\n"+tag) {
		t.Fatalf("caption %q does not end with the tag on its own line", caption)
	}

	found, ok := Detect(caption)
	if !ok || found != tag {
		t.Fatalf("Detect = %q, %v; want %q, true", found, ok, tag)
	}
}

func TestAppend_EmptyCaption(t *testing.T) {
	t.Parallel()

	if got := Append("", "#pwabcdefgh"); got != "#pwabcdefgh" {
		t.Fatalf("Append on empty caption = %q", got)
	}
}

func TestStrip(t *testing.T) {
	t.Parallel()

	tag, _ := Generate("post-1")
	caption := Append("summer sale", tag)

	if got := Strip(caption); got != "summer sale" {
		t.Fatalf("Strip = %q, want the original caption", got)
	}
	if got := Strip("no tag here"); got != "no tag here" {
		t.Fatalf("Strip without a tag = %q, want unchanged", got)
	}
}
