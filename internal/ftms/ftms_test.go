package ftms

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketLengthAndFlags(t *testing.T) {
	buf := Encode(RowerData{})
	require.Len(t, buf, 23)
	require.Equal(t, Flags, binary.LittleEndian.Uint16(buf[0:2]))
}

func TestEncodeFieldPlacement(t *testing.T) {
	r := RowerData{
		StrokeRateSPM:   24,
		StrokeCount:     10,
		DistanceM:       1234,
		PaceInstS500:    120,
		PaceAvgS500:     130,
		PowerInstW:      200,
		PowerAvgW:       180,
		CaloriesKcal:    50,
		CaloriesPerHour: 600,
		ElapsedS:        300,
	}
	buf := Encode(r)

	require.Equal(t, byte(48), buf[2]) // round(2*24)=48
	require.Equal(t, uint16(10), binary.LittleEndian.Uint16(buf[3:5]))

	dist := uint32(buf[5]) | uint32(buf[6])<<8 | uint32(buf[7])<<16
	require.Equal(t, uint32(1234), dist)

	require.Equal(t, uint16(120), binary.LittleEndian.Uint16(buf[8:10]))
	require.Equal(t, uint16(130), binary.LittleEndian.Uint16(buf[10:12]))
	require.Equal(t, int16(200), int16(binary.LittleEndian.Uint16(buf[12:14])))
	require.Equal(t, int16(180), int16(binary.LittleEndian.Uint16(buf[14:16])))
	require.Equal(t, uint16(50), binary.LittleEndian.Uint16(buf[16:18]))
	require.Equal(t, uint16(600), binary.LittleEndian.Uint16(buf[18:20]))
	require.Equal(t, byte(10), buf[20]) // 600/60
	require.Equal(t, uint16(300), binary.LittleEndian.Uint16(buf[21:23]))
}

func TestEncodePaceOutOfRangeIsZero(t *testing.T) {
	r := RowerData{PaceInstS500: 10000, PaceAvgS500: -1}
	buf := Encode(r)
	require.Equal(t, uint16(0), binary.LittleEndian.Uint16(buf[8:10]))
	require.Equal(t, uint16(0), binary.LittleEndian.Uint16(buf[10:12]))
}
