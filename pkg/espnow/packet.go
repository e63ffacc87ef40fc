package espnow

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DeviceIDLen is the fixed width of the device identifier field
const DeviceIDLen = 32

// SensorDataLen is the encoded size of a DATA frame:
// type(1) + timestamp(8) + device id(32) + soil voltage/percent/raw(12) +
// battery voltage/percent(8)
const SensorDataLen = 1 + 8 + DeviceIDLen + 4 + 4 + 4 + 4 + 4

// SensorData is the fixed-layout DATA frame payload carrying one soil and one
// battery measurement. It is immutable once built; marshal a fresh one per
// send attempt.
type SensorData struct {
	TimestampMS uint64  `json:"timestampMs"`
	DeviceID    string  `json:"deviceId"`
	SoilVoltage float32 `json:"soilVoltage"`
	SoilPercent float32 `json:"soilPercent"`
	SoilRawADC  int32   `json:"soilRawAdc"`
	BattVoltage float32 `json:"battVoltage"`
	BattPercent float32 `json:"battPercent"`
}

// Marshal encodes the DATA frame. All multi-byte fields are little-endian.
func (d *SensorData) Marshal() ([]byte, error) {
	if len(d.DeviceID) > DeviceIDLen-1 {
		return nil, fmt.Errorf("device id too long: %d", len(d.DeviceID))
	}

	buf := make([]byte, SensorDataLen)
	buf[0] = byte(MsgTypeData)
	binary.LittleEndian.PutUint64(buf[1:9], d.TimestampMS)

	// NUL-padded fixed-width string
	copy(buf[9:9+DeviceIDLen], d.DeviceID)

	off := 9 + DeviceIDLen
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(d.SoilVoltage))
	binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(d.SoilPercent))
	binary.LittleEndian.PutUint32(buf[off+8:], uint32(d.SoilRawADC))
	binary.LittleEndian.PutUint32(buf[off+12:], math.Float32bits(d.BattVoltage))
	binary.LittleEndian.PutUint32(buf[off+16:], math.Float32bits(d.BattPercent))

	return buf, nil
}

// UnmarshalSensorData decodes a DATA frame
func UnmarshalSensorData(data []byte) (*SensorData, error) {
	if len(data) < SensorDataLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}
	if MsgType(data[0]) != MsgTypeData {
		return nil, fmt.Errorf("unexpected message type %d", data[0])
	}

	d := &SensorData{
		TimestampMS: binary.LittleEndian.Uint64(data[1:9]),
	}

	id := data[9 : 9+DeviceIDLen]
	for i, b := range id {
		if b == 0 {
			id = id[:i]
			break
		}
	}
	d.DeviceID = string(id)

	off := 9 + DeviceIDLen
	d.SoilVoltage = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
	d.SoilPercent = math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:]))
	d.SoilRawADC = int32(binary.LittleEndian.Uint32(data[off+8:]))
	d.BattVoltage = math.Float32frombits(binary.LittleEndian.Uint32(data[off+12:]))
	d.BattPercent = math.Float32frombits(binary.LittleEndian.Uint32(data[off+16:]))

	return d, nil
}

// AckFrame is the one-byte acknowledgment payload
var AckFrame = []byte{byte(MsgTypeAck)}

// IsAck reports whether data is an ACK frame
func IsAck(data []byte) bool {
	return len(data) >= 1 && MsgType(data[0]) == MsgTypeAck
}
