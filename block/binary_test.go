package block

import (
	"bytes"
	"testing"
)

func TestBinaryRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteU8(&buf, 0xAB); err != nil {
		t.Fatal(err)
	}
	if err := WriteI16(&buf, -1234); err != nil {
		t.Fatal(err)
	}
	if err := WriteU32(&buf, 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	if err := WriteI64(&buf, -9_000_000_000); err != nil {
		t.Fatal(err)
	}
	if err := WriteF32(&buf, 3.25); err != nil {
		t.Fatal(err)
	}
	if err := WriteF64(&buf, -12.5); err != nil {
		t.Fatal(err)
	}

	r := bytes.NewReader(buf.Bytes())
	if v, err := ReadU8(r); err != nil || v != 0xAB {
		t.Fatalf("ReadU8 = %v, %v", v, err)
	}
	if v, err := ReadI16(r); err != nil || v != -1234 {
		t.Fatalf("ReadI16 = %v, %v", v, err)
	}
	if v, err := ReadU32(r); err != nil || v != 0xDEADBEEF {
		t.Fatalf("ReadU32 = %v, %v", v, err)
	}
	if v, err := ReadI64(r); err != nil || v != -9_000_000_000 {
		t.Fatalf("ReadI64 = %v, %v", v, err)
	}
	if v, err := ReadF32(r); err != nil || v != 3.25 {
		t.Fatalf("ReadF32 = %v, %v", v, err)
	}
	if v, err := ReadF64(r); err != nil || v != -12.5 {
		t.Fatalf("ReadF64 = %v, %v", v, err)
	}
}

func TestReadShortFailsWithIo(t *testing.T) {
	r := bytes.NewReader([]byte{0x01, 0x02})
	if _, err := ReadU32(r); err == nil {
		t.Fatal("expected short read to fail")
	}
}

func TestLittleEndianByteOrder(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteU32(&buf, 0x01020304); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x04, 0x03, 0x02, 0x01}
	if got := buf.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("WriteU32 bytes = %x, want %x", got, want)
	}
}
