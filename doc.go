// Package gatt implements a BLE GATT peripheral framework over a vendor
// host-stack event/callback API (see the hoststack package), turning a
// flat, handle-indexed C-style call surface into a typed, hierarchical
// object model: Attribute, Characteristic, Descriptor, Service,
// Application, and the GATT Server Core and GAP Manager that drive them.
//
// STATUS
//
// The host stack radio, link layer, and attribute transport themselves
// are out of scope; this module ships hoststack/simstack, an in-memory
// simulator, as its one reference hoststack.Host implementation, used by
// tests, examples, and the CLI demo in cmd/gattperiphd.
//
// USAGE
//
// A peripheral is built from the facade, which constructs the GATT
// server and GAP manager over a shared host-stack handle:
//
//	host := simstack.New()
//	p := gatt.NewPeripheral(host, nil)
//
//	app, err := p.Server.RegisterApp(1)
//	svc := gatt.NewService(gatt.ServiceID{UUID: myServiceUUID, IsPrimary: true}, 8)
//	if err := p.Server.AddService(app, svc); err != nil {
//		log.Fatal(err)
//	}
//
//	counter, err := gatt.AddCharacteristic(p.Server, svc, gatt.CharacteristicConfig{
//		UUID:         myCharUUID,
//		Readable:     true,
//		EnableNotify: true,
//	}, gatt.U32(), 0)
//
//	if err := p.Server.StartService(svc); err != nil {
//		log.Fatal(err)
//	}
//
//	p.GAP.SetConfig(gatt.DefaultGAPConfig("my-peripheral"))
//	p.GAP.StartAdvertising()
//
//	counter.UpdateValue(counter.Value() + 1) // indicates to every connected peer of the application
package gatt
