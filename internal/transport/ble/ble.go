// Package ble advertises the rowing core as a Bluetooth LE Fitness
// Machine Service peripheral and notifies the Rower Data characteristic,
// using tinygo.org/x/bluetooth's peripheral-side GATT API.
package ble

import (
	"fmt"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"

	"github.com/ergorower/ergocore/internal/ftms"
)

var adapter = bluetooth.DefaultAdapter

// Peripheral advertises the Fitness Machine Service and notifies
// connected centrals with Rower Data packets. It implements
// broadcast.Sink.
type Peripheral struct {
	deviceName string

	mu          sync.Mutex
	rowerDataCh bluetooth.Characteristic
	featureCh   bluetooth.Characteristic

	connected atomic.Bool
}

// NewPeripheral configures and starts BLE advertising under deviceName.
func NewPeripheral(deviceName string) (*Peripheral, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	p := &Peripheral{deviceName: deviceName}

	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		p.connected.Store(connected)
	})

	var rowerDataCh, featureCh bluetooth.Characteristic
	err := adapter.AddService(&bluetooth.Service{
		UUID: serviceUUID(ftms.ServiceFitnessMachine),
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &featureCh,
				UUID:   serviceUUID(ftms.CharacteristicFitnessFeature),
				Value:  make([]byte, 8), // all-zero feature and target-setting bitmaps
				Flags:  bluetooth.CharacteristicReadPermission,
			},
			{
				Handle: &rowerDataCh,
				UUID:   serviceUUID(ftms.CharacteristicRowerData),
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ble: add FTMS service: %w", err)
	}

	var devInfoCh bluetooth.Characteristic
	err = adapter.AddService(&bluetooth.Service{
		UUID: serviceUUID(ftms.ServiceDeviceInformation),
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &devInfoCh,
				UUID:   bluetooth.CharacteristicUUIDManufacturerNameString,
				Value:  []byte("ErgoRower"),
				Flags:  bluetooth.CharacteristicReadPermission,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ble: add device information service: %w", err)
	}

	p.rowerDataCh = rowerDataCh
	p.featureCh = featureCh

	adv := adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    deviceName,
		ServiceUUIDs: []bluetooth.UUID{serviceUUID(ftms.ServiceFitnessMachine)},
	}); err != nil {
		return nil, fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return nil, fmt.Errorf("ble: start advertisement: %w", err)
	}

	return p, nil
}

// IsConnected reports whether a central is currently connected.
func (p *Peripheral) IsConnected() bool { return p.connected.Load() }

// Send notifies the Rower Data characteristic with an already-encoded
// FTMS packet (see internal/ftms.Encode).
func (p *Peripheral) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.rowerDataCh.Write(payload)
	return err
}

func serviceUUID(assignedNumber uint16) bluetooth.UUID {
	return bluetooth.New16BitUUID(assignedNumber)
}
