package binframe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore map[string][]byte

func (m memStore) Open(_ context.Context, sig string) (io.ReadCloser, int64, error) {
	b, ok := m[sig]
	if !ok {
		return nil, 0, common.ErrorNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func (m memStore) Put(_ context.Context, sig string, r io.Reader, size int64) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return io.ErrUnexpectedEOF
	}
	m[sig] = b
	return nil
}

func encodeFrame(t *testing.T, cases string, items []Descriptor, src Source) []byte {
	t.Helper()
	var buf bytes.Buffer
	err := Encode(context.Background(), &buf, strings.NewReader(cases), int64(len(cases)), items, src)
	require.NoError(t, err)
	return buf.Bytes()
}

func le32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func TestRoundTrip(t *testing.T) {
	big := bytes.Repeat([]byte("0123456789abcdef"), 1100) // > 8 KiB
	src := memStore{
		"empty": {},
		"one":   {0x7f},
		"big":   big,
	}
	cases := `[{"id":"c1"}]`
	items := []Descriptor{
		{Signature: "empty", CaseID: "c1"},
		{Signature: "one", CaseID: "c1", Metadata: []byte(`{"mime":"text/plain"}`)},
		{Signature: "big", CaseID: "c1"},
	}

	frame := encodeFrame(t, cases, items, src)
	assert.True(t, IsFramed(frame))

	var js bytes.Buffer
	dst := memStore{}
	dec, err := Decode(context.Background(), bytes.NewReader(frame), &js, dst)
	require.NoError(t, err)

	assert.Equal(t, Version, dec.Version)
	assert.Equal(t, cases, js.String())
	assert.Equal(t, []string{"empty", "one", "big"}, dec.Signatures)

	require.Contains(t, dst, "empty")
	assert.Len(t, dst["empty"], 0)
	assert.Equal(t, []byte{0x7f}, dst["one"])
	assert.Equal(t, big, dst["big"])
}

func TestEncodeHeaderLayout(t *testing.T) {
	frame := encodeFrame(t, "[]", nil, memStore{})

	want := append([]byte(Signature), le32(1)...)
	want = append(want, le32(2)...)
	want = append(want, "[]"...)
	assert.Equal(t, want, frame)
}

func TestEncodeMissingSource(t *testing.T) {
	src := memStore{"here": []byte("xyz")}
	frame := encodeFrame(t, "[]", []Descriptor{{Signature: "nothere", CaseID: "c1"}, {Signature: "here"}}, src)

	var want bytes.Buffer
	want.Write(encodeFrame(t, "[]", nil, memStore{}))
	require.NoError(t, EncodeNoContent(&want, Descriptor{Signature: "nothere", CaseID: "c1"}))
	assert.Equal(t, want.Bytes(), frame[:want.Len()])

	dst := memStore{}
	dec, err := Decode(context.Background(), bytes.NewReader(frame), io.Discard, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"nothere", "here"}, dec.Signatures)
	assert.Equal(t, memStore{"here": []byte("xyz")}, dst)
}

func TestEncodeSourceError(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(context.Background(), &buf, strings.NewReader("[]"), 2,
		[]Descriptor{{Signature: "ab"}}, failingSource{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, common.ErrorNotFound))
}

type failingSource struct{}

func (failingSource) Open(context.Context, string) (io.ReadCloser, int64, error) {
	return nil, 0, errors.New("disk gone")
}

func TestDecodeNoContentRecords(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(encodeFrame(t, "[]", nil, memStore{}))
	require.NoError(t, EncodeNoContent(&buf, Descriptor{Signature: "abc"}))

	// trailing descriptor without any length field
	desc := []byte(`{"signature":"def","length":3,"caseid":"x"}`)
	buf.Write(le32(int32(len(desc))))
	buf.Write(desc)

	dst := memStore{}
	dec, err := Decode(context.Background(), &buf, io.Discard, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc", "def"}, dec.Signatures)
	assert.Empty(t, dst)
}

func TestDecodeDuplicateSignatures(t *testing.T) {
	src := memStore{"aa": []byte("1")}
	frame := encodeFrame(t, "[]", []Descriptor{{Signature: "aa"}, {Signature: "aa"}}, src)

	dec, err := Decode(context.Background(), bytes.NewReader(frame), io.Discard, memStore{})
	require.NoError(t, err)
	assert.Equal(t, []string{"aa"}, dec.Signatures)
}

func TestDecodeErrors(t *testing.T) {
	good := encodeFrame(t, `[{"id":"1"}]`, []Descriptor{{Signature: "ab"}}, memStore{"ab": []byte("hello")})

	badVersion := append([]byte(Signature), le32(2)...)
	badVersion = append(badVersion, le32(0)...)

	badSig := encodeFrame(t, "[]", nil, memStore{})
	desc := []byte(`{"signature":"../etc","length":0}`)
	badSig = append(badSig, le32(int32(len(desc)))...)
	badSig = append(badSig, desc...)
	badSig = append(badSig, le32(0)...)

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"wrong signature", []byte("zzzzzz\x01\x00\x00\x00")},
		{"unsupported version", badVersion},
		{"truncated json", good[:14]},
		{"truncated content", good[:len(good)-2]},
		{"truncated descriptor", good[:len(Signature)+8+12+4+3]},
		{"invalid attachment signature", badSig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(context.Background(), bytes.NewReader(tt.in), io.Discard, memStore{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrFormat), "got %v", err)
		})
	}
}

// copySink reports a short read the way io.CopyN does.
type copySink struct{}

func (copySink) Put(_ context.Context, _ string, r io.Reader, size int64) error {
	_, err := io.CopyN(io.Discard, r, size)
	return err
}

func TestDecodeTruncatedAttachment_PlainEOF(t *testing.T) {
	frame := encodeFrame(t, "[]", []Descriptor{{Signature: "abc"}}, memStore{"abc": []byte("hello world")})

	_, err := Decode(context.Background(), bytes.NewReader(frame[:len(frame)-3]), io.Discard, copySink{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrFormat)
}

func TestDecodeCanceled(t *testing.T) {
	frame := encodeFrame(t, "[]", []Descriptor{{Signature: "ab"}}, memStore{"ab": []byte("x")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Decode(ctx, bytes.NewReader(frame), io.Discard, memStore{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestValidSignature(t *testing.T) {
	assert.True(t, ValidSignature("abc123DEF"))
	assert.False(t, ValidSignature(""))
	assert.False(t, ValidSignature("a-b"))
	assert.False(t, ValidSignature(strings.Repeat("a", 129)))
}
