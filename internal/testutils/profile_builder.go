package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blemux/internal/frame"
	"github.com/srg/blemux/internal/transport"
)

// PeripheralBuilder assembles a MockPeripheral with a fluent chain.
// WithCharacteristic attaches to the most recently added service.
//
//	p := testutils.NewPeripheral("AA:BB:CC:DD:EE:FF").
//	    WithName("Kitchen Scale").
//	    WithService("FFF0").
//	    WithCharacteristic("FFF1", "notify", nil).
//	    WithCharacteristic("FFF4", "write", nil).
//	    Build()
type PeripheralBuilder struct {
	p *MockPeripheral
}

func NewPeripheral(id string) *PeripheralBuilder {
	return &PeripheralBuilder{p: &MockPeripheral{ID: id, RSSI: -50, MTU: 185}}
}

func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.p.Name = name
	return b
}

func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.p.RSSI = rssi
	return b
}

func (b *PeripheralBuilder) WithMTU(mtu int) *PeripheralBuilder {
	b.p.MTU = mtu
	return b
}

func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.p.Services = append(b.p.Services, &MockService{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
// Panics when called before WithService; that is a broken test, not a
// runtime condition.
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.p.Services) == 0 {
		panic("WithCharacteristic called before WithService")
	}
	s := b.p.Services[len(b.p.Services)-1]
	s.Characteristics = append(s.Characteristics, &MockCharacteristic{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FailingConnect scripts every connection attempt to fail with err.
func (b *PeripheralBuilder) FailingConnect(err *transport.Error) *PeripheralBuilder {
	b.p.ConnectErr = err
	return b
}

func (b *PeripheralBuilder) Build() *MockPeripheral {
	return b.p
}

type peripheralJSON struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	RSSI     int           `json:"rssi"`
	MTU      int           `json:"mtu"`
	Services []serviceJSON `json:"services"`
}

type serviceJSON struct {
	UUID            string               `json:"uuid"`
	Characteristics []characteristicJSON `json:"characteristics"`
}

type characteristicJSON struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties"`
	ValueB64   string `json:"value,omitempty"`
}

// PeripheralFromJSON builds a mock peripheral from a JSON profile.
// Characteristic values are base64, matching the transport encoding.
// The format string is expanded with args first.
func PeripheralFromJSON(jsonFmt string, args ...interface{}) (*MockPeripheral, error) {
	var pj peripheralJSON
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonFmt, args...)), &pj); err != nil {
		return nil, fmt.Errorf("parsing peripheral profile: %w", err)
	}
	b := NewPeripheral(pj.ID).WithName(pj.Name)
	if pj.RSSI != 0 {
		b.WithRSSI(pj.RSSI)
	}
	if pj.MTU != 0 {
		b.WithMTU(pj.MTU)
	}
	for _, sj := range pj.Services {
		b.WithService(sj.UUID)
		for _, cj := range sj.Characteristics {
			var value []byte
			if cj.ValueB64 != "" {
				v, err := frame.DecodeBase64(cj.ValueB64)
				if err != nil {
					return nil, fmt.Errorf("characteristic %s value: %w", cj.UUID, err)
				}
				value = v
			}
			b.WithCharacteristic(cj.UUID, cj.Properties, value)
		}
	}
	return b.Build(), nil
}

// AdvertisementBuilder assembles a transport.Advertisement.
type AdvertisementBuilder struct {
	adv *transport.Advertisement
}

func NewAdvertisement(deviceID string) *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: &transport.Advertisement{
		DeviceID:    deviceID,
		RSSI:        -50,
		Connectable: true,
	}}
}

func (b *AdvertisementBuilder) WithLocalName(name string) *AdvertisementBuilder {
	b.adv.LocalName = name
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.RSSI = rssi
	return b
}

func (b *AdvertisementBuilder) WithServiceUUIDs(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceUUIDs = append(b.adv.ServiceUUIDs, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.ManufacturerB64 = frame.EncodeBase64(data)
	return b
}

func (b *AdvertisementBuilder) NotConnectable() *AdvertisementBuilder {
	b.adv.Connectable = false
	return b
}

func (b *AdvertisementBuilder) Build() *transport.Advertisement {
	return b.adv
}
