package charset

import "testing"

func TestConvertASCII(t *testing.T) {
	c := NewConverter()
	got := c.Convert("Hello")
	want := []byte("Hello")
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestConvertUnmappedFallsBackToSpace(t *testing.T) {
	c := NewConverter()
	got := c.Convert("A中B") // 中 has no EBU-Latin mapping
	want := []byte{'A', ' ', 'B'}
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestConvertAccentedLatin(t *testing.T) {
	c := NewConverter()
	got := c.Convert("á")
	if len(got) != 1 {
		t.Fatalf("expected single byte, got %v", got)
	}
	if got[0] != tableOffset+96 {
		t.Errorf("got byte %#02x, want %#02x", got[0], tableOffset+96)
	}
}
