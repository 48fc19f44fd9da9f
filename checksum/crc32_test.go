package checksum

import "testing"

func TestCRC32Fixture(t *testing.T) {
	got := New().Calculate([]byte("123456789"))
	want := uint32(0xCBF43926)
	if got != want {
		t.Fatalf("CRC32.Calculate(\"123456789\") = %#x, want %#x", got, want)
	}
}

func TestCRC32AppendIncremental(t *testing.T) {
	c := New()
	c.Append([]byte("123"))
	c.Append([]byte("456"))
	c.Append([]byte("789"))
	if got, want := c.Get(), uint32(0xCBF43926); got != want {
		t.Fatalf("incremental CRC32 = %#x, want %#x", got, want)
	}
}

func TestCRC32ResetReusesAccumulator(t *testing.T) {
	c := New()
	c.Append([]byte("garbage"))
	c.Reset()
	c.Append([]byte("123456789"))
	if got, want := c.Get(), uint32(0xCBF43926); got != want {
		t.Fatalf("CRC32 after reset = %#x, want %#x", got, want)
	}
}

func TestIEEEMatchesStatefulForm(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	if got, want := IEEE(data), New().Calculate(data); got != want {
		t.Fatalf("IEEE(data) = %#x, want %#x", got, want)
	}
}
