package binfmt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nadc.report/internal/errs"
)

var timeLayout = &Layout{
	Name: "mjd",
	Fields: []Field{
		{Name: "days", Kind: Int, Width: 4, Signed: true},
		{Name: "secnd", Kind: Int, Width: 4},
		{Name: "musec", Kind: Int, Width: 4},
	},
}

var packetLayout = &Layout{
	Name:     "packet",
	BitOrder: MSBFirst,
	Fields: []Field{
		{Name: "time", Kind: Nested, Layout: timeLayout},
		{Name: "id", Kind: Bitfield, Width: 2, Bits: []BitField{
			{Name: "version", Bits: 3},
			{Name: "type", Bits: 1},
			{Name: "sec_hdr", Bits: 1},
			{Name: "apid", Bits: 11},
		}},
		{Name: "category", Kind: Int, Width: 1},
		{Name: "phase", Kind: Float, Width: 4},
		{Name: "altitude", Kind: Float, Width: 8},
		{Name: "offsets", Kind: Int, Width: 2, Count: 3, Signed: true},
		{Name: "counts", Kind: Int, Width: 8, Count: 2},
		{Name: "name", Kind: String, Width: 8},
		{Name: "corners", Kind: Nested, Count: 2, Layout: &Layout{
			Name: "coord",
			Fields: []Field{
				{Name: "lat", Kind: Int, Width: 4, Signed: true},
				{Name: "lon", Kind: Int, Width: 4, Signed: true},
			},
		}},
	},
}

func TestDecodeExplicitByteOrder(t *testing.T) {
	t.Parallel()

	b := []byte{0xFF, 0xFF, 0xFF, 0xFE, 0x00, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x07}

	big, err := NewCodec(BigEndian).Decode(b, timeLayout)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), big.Int("days"))
	assert.Equal(t, uint64(258), big.Uint("secnd"))
	assert.Equal(t, uint64(7), big.Uint("musec"))

	little, err := NewCodec(LittleEndian).Decode(b, timeLayout)
	require.NoError(t, err)
	assert.Equal(t, int64(-16777217), little.Int("days"))
	assert.Equal(t, uint64(0x02010000), little.Uint("secnd"))
}

func TestDecodeLengthMismatchIsFormatError(t *testing.T) {
	t.Parallel()

	_, err := NewCodec(BigEndian).Decode(make([]byte, 11), timeLayout)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFormat)

	_, err = NewCodec(BigEndian).DecodeArray(make([]byte, 25), timeLayout, 2)
	assert.ErrorIs(t, err, errs.ErrFormat)
}

func TestBitOrderTables(t *testing.T) {
	t.Parallel()

	field := Field{Name: "flags", Kind: Bitfield, Width: 1, Bits: []BitField{
		{Name: "a", Bits: 2},
		{Name: "b", Bits: 3},
		{Name: "c", Bits: 3},
	}}
	// 0b10_011_101
	raw := []byte{0x9D}

	msb, err := NewCodec(BigEndian).Decode(raw, &Layout{Name: "msb", BitOrder: MSBFirst, Fields: []Field{field}})
	require.NoError(t, err)
	assert.Equal(t, Record{"a": uint64(2), "b": uint64(3), "c": uint64(5)}, msb.Sub("flags"))

	// LSB-first reads the same byte from the other end: c=0b100, b=0b111, a=0b01
	lsb, err := NewCodec(BigEndian).Decode(raw, &Layout{Name: "lsb", BitOrder: LSBFirst, Fields: []Field{field}})
	require.NoError(t, err)
	assert.Equal(t, Record{"a": uint64(1), "b": uint64(7), "c": uint64(4)}, lsb.Sub("flags"))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	rec := Record{
		"time": Record{"days": int64(-12), "secnd": uint64(86399), "musec": uint64(999999)},
		"id":   Record{"version": uint64(5), "type": uint64(1), "sec_hdr": uint64(0), "apid": uint64(2047)},
		"category": uint64(26),
		"phase":    float64(float32(0.123)),
		"altitude": 799.25,
		"offsets":  []int64{-3, 0, 32767},
		"counts":   []uint64{1 << 40, 7},
		"name":     "NADIR",
		"corners": []Record{
			{"lat": int64(-45000000), "lon": int64(179999999)},
			{"lat": int64(45000000), "lon": int64(-179999999)},
		},
	}

	for _, order := range []Order{BigEndian, LittleEndian} {
		t.Run(order.String(), func(t *testing.T) {
			t.Parallel()
			c := NewCodec(order)
			b, err := c.Encode(rec, packetLayout)
			require.NoError(t, err)
			require.Len(t, b, packetLayout.Size())

			got, err := c.Decode(b, packetLayout)
			require.NoError(t, err)
			if diff := cmp.Diff(rec, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestArrayRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewCodec(BigEndian)
	recs := []Record{
		{"days": int64(1), "secnd": uint64(2), "musec": uint64(3)},
		{"days": int64(-1), "secnd": uint64(20), "musec": uint64(30)},
	}
	b, err := c.EncodeArray(recs, timeLayout)
	require.NoError(t, err)

	got, err := c.DecodeArray(b, timeLayout, 2)
	require.NoError(t, err)
	if diff := cmp.Diff(recs, got); diff != "" {
		t.Errorf("array mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeRejectsOverflowingBits(t *testing.T) {
	t.Parallel()

	rec := Record{"id": Record{"version": uint64(8)}}
	_, err := NewCodec(BigEndian).Encode(rec, packetLayout)
	assert.ErrorContains(t, err, "does not fit")
}

func TestEncodeRejectsOverflowingInts(t *testing.T) {
	t.Parallel()

	l := &Layout{Name: "narrow", Fields: []Field{
		{Name: "n", Kind: Int, Width: 1},
		{Name: "s", Kind: Int, Width: 1, Signed: true},
	}}
	codec := NewCodec(BigEndian)

	_, err := codec.Encode(Record{"n": 300}, l)
	assert.ErrorContains(t, err, "does not fit")
	_, err = codec.Encode(Record{"n": int64(-1)}, l)
	assert.ErrorContains(t, err, "does not fit")
	_, err = codec.Encode(Record{"s": int64(128)}, l)
	assert.ErrorContains(t, err, "does not fit")
	_, err = codec.Encode(Record{"s": uint64(200)}, l)
	assert.ErrorContains(t, err, "does not fit")

	b, err := codec.Encode(Record{"n": uint64(255), "s": int64(-128)}, l)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x80}, b)
}

func TestMalformedLayoutIsFormatError(t *testing.T) {
	t.Parallel()

	l := &Layout{Name: "odd", Fields: []Field{{Name: "a", Kind: Int, Width: 3}}}
	codec := NewCodec(LittleEndian)

	_, err := codec.Decode(make([]byte, 3), l)
	assert.ErrorIs(t, err, errs.ErrFormat)
	_, err = codec.DecodeArray(make([]byte, 6), l, 2)
	assert.ErrorIs(t, err, errs.ErrFormat)
	_, err = codec.Encode(Record{"a": uint64(1)}, l)
	assert.ErrorIs(t, err, errs.ErrFormat)
}

func TestLayoutValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, packetLayout.Validate())
	assert.Equal(t, 12+2+1+4+8+6+16+8+16, packetLayout.Size())

	bad := []*Layout{
		{Name: "dup", Fields: []Field{{Name: "a", Kind: Int, Width: 1}, {Name: "a", Kind: Int, Width: 1}}},
		{Name: "width", Fields: []Field{{Name: "a", Kind: Int, Width: 3}}},
		{Name: "float", Fields: []Field{{Name: "a", Kind: Float, Width: 2}}},
		{Name: "bits", Fields: []Field{{Name: "a", Kind: Bitfield, Width: 1, Bits: []BitField{{Name: "x", Bits: 9}}}}},
		{Name: "nested", Fields: []Field{{Name: "a", Kind: Nested}}},
		{Name: "string", Fields: []Field{{Name: "a", Kind: String}}},
	}
	for _, l := range bad {
		assert.Error(t, l.Validate(), l.Name)
	}
}

func TestCursor(t *testing.T) {
	t.Parallel()

	c := NewCodec(BigEndian)
	a := c.NewAppender()
	a.Uint16(3)
	a.Uint16s([]uint16{10, 11, 12})
	a.Float32s([]float64{1.5, -2.25, 0})
	a.Int32(-9)

	cur := c.NewCursor(a.Bytes(), "test")
	n := int(cur.Uint16())
	assert.Equal(t, []uint16{10, 11, 12}, cur.Uint16s(n))
	assert.Equal(t, []float64{1.5, -2.25, 0}, cur.Float32s(n))
	assert.Equal(t, int32(-9), cur.Int32())
	assert.Equal(t, 0, cur.Remaining())
	require.NoError(t, cur.Err())

	assert.Zero(t, cur.Uint32())
	assert.ErrorIs(t, cur.Err(), errs.ErrFormat)
	assert.Nil(t, cur.Float32s(2))
}

func TestHostOrderIsStable(t *testing.T) {
	t.Parallel()
	assert.Equal(t, probeHostOrder(), HostOrder())
	assert.Equal(t, HostOrder() != BigEndian, newSwapper(BigEndian).swap)
}
