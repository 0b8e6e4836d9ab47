// Package ftms encodes the Bluetooth SIG Fitness Machine Service (FTMS)
// Rower Data characteristic (0x2AD1) packet. Pure byte-encoding only; no
// I/O or BLE stack dependency lives here (see internal/transport/ble for
// the GATT adapter).
package ftms

import (
	"encoding/binary"
	"math"
)

// Service and characteristic UUIDs (Bluetooth SIG assigned numbers).
const (
	ServiceFitnessMachine         = 0x1826
	CharacteristicRowerData       = 0x2AD1
	CharacteristicFitnessFeature  = 0x2ACC
	ServiceDeviceInformation      = 0x180A
)

// Rower Data flags bits (Bluetooth FTMS spec). Bit 0, "More Data", is left
// clear: the Stroke Rate and Stroke Count fields are always present.
const (
	flagMoreData        = 1 << 0
	flagTotalDistance    = 1 << 2
	flagInstantPace      = 1 << 3
	flagAveragePace      = 1 << 4
	flagInstantPower     = 1 << 5
	flagAveragePower     = 1 << 6
	flagExpendedEnergy   = 1 << 8
	flagElapsedTime      = 1 << 11
)

// Flags is the fixed flags word sent with every Rower Data notification.
const Flags uint16 = flagTotalDistance | flagInstantPace | flagAveragePace |
	flagInstantPower | flagAveragePower | flagExpendedEnergy | flagElapsedTime

// PacketLen is the exact encoded length of a Rower Data notification.
const PacketLen = 23

const (
	maxPaceS500 = 9999
	u24Max      = 1<<24 - 1
)

// RowerData is the subset of a MetricsSnapshot the Rower Data packet
// encodes.
type RowerData struct {
	StrokeRateSPM   float64
	StrokeCount     uint64
	DistanceM       float64
	PaceInstS500    float64
	PaceAvgS500     float64
	PowerInstW      float64
	PowerAvgW       float64
	CaloriesKcal    float64
	CaloriesPerHour float64
	ElapsedS        int64
}

// Encode renders r as the 23-byte little-endian Rower Data packet.
func Encode(r RowerData) []byte {
	buf := make([]byte, PacketLen)
	binary.LittleEndian.PutUint16(buf[0:2], Flags)

	buf[2] = byte(clampU8(math.Round(2 * r.StrokeRateSPM)))
	binary.LittleEndian.PutUint16(buf[3:5], clampU16(r.StrokeCount))

	putU24(buf[5:8], clampU24(math.Round(r.DistanceM)))

	binary.LittleEndian.PutUint16(buf[8:10], encodePace(r.PaceInstS500))
	binary.LittleEndian.PutUint16(buf[10:12], encodePace(r.PaceAvgS500))

	binary.LittleEndian.PutUint16(buf[12:14], uint16(int16(clampI16(r.PowerInstW))))
	binary.LittleEndian.PutUint16(buf[14:16], uint16(int16(clampI16(r.PowerAvgW))))

	binary.LittleEndian.PutUint16(buf[16:18], clampU16(uint64(r.CaloriesKcal)))
	binary.LittleEndian.PutUint16(buf[18:20], clampU16(uint64(r.CaloriesPerHour)))
	buf[20] = byte(clampU8(r.CaloriesPerHour / 60))

	binary.LittleEndian.PutUint16(buf[21:23], clampU16(uint64(r.ElapsedS)))

	return buf
}

func encodePace(paceS500 float64) uint16 {
	if paceS500 > maxPaceS500 || paceS500 < 0 {
		return 0
	}
	return uint16(paceS500)
}

func putU24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func clampU8(v float64) uint64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint64(v)
}

func clampU16(v uint64) uint16 {
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}

func clampU24(v float64) uint32 {
	if v < 0 {
		return 0
	}
	if v > u24Max {
		return u24Max
	}
	return uint32(v)
}

func clampI16(v float64) int64 {
	if v < -32768 {
		return -32768
	}
	if v > 32767 {
		return 32767
	}
	return int64(v)
}
