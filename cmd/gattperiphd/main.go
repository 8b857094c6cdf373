// Command gattperiphd demonstrates the framework end to end: it loads a
// GAP config file, builds a BLE peripheral over the in-memory simulator,
// registers one demo service with a counter characteristic, and starts
// advertising (§6.2).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gatt "github.com/dk731/go-bluedroid"
	"github.com/dk731/go-bluedroid/hoststack/simstack"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	gapConfigPath string
	deviceName    string
	appID         uint16
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gattperiphd",
		Short: "Run a demo BLE GATT peripheral over the in-memory simulator",
		RunE:  runServe,
	}
	root.Flags().StringVar(&gapConfigPath, "gap-config", "", "path to a GAP config TOML file (optional)")
	root.Flags().StringVar(&deviceName, "name", "gattperiphd", "device name, used if --gap-config is not set")
	root.Flags().Uint16Var(&appID, "app-id", 1, "GATT application id to register")
	return root
}

// demoCounterUUID and demoServiceUUID are arbitrary application-defined
// UUIDs for this demo; a real deployment would use its own.
var (
	demoServiceUUID = gatt.UUID16(0x1234)
	demoCounterUUID = gatt.UUID16(0x5678)
)

func runServe(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := gatt.DefaultGAPConfig(deviceName)
	if gapConfigPath != "" {
		loaded, err := gatt.LoadGAPConfig(gapConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	host := simstack.New()
	p := gatt.NewPeripheral(host, log)
	defer p.Close()

	app, err := p.Server.RegisterApp(appID)
	if err != nil {
		return err
	}

	svc := gatt.NewService(gatt.ServiceID{UUID: demoServiceUUID, IsPrimary: true}, 8)
	if err := p.Server.AddService(app, svc); err != nil {
		return err
	}

	desc := "counter"
	counter, err := gatt.AddCharacteristic(p.Server, svc, gatt.CharacteristicConfig{
		UUID:         demoCounterUUID,
		ValueMaxLen:  4,
		Readable:     true,
		Writable:     false,
		EnableNotify: true,
		Description:  &desc,
	}, gatt.U32(), 0)
	if err != nil {
		return err
	}

	if err := p.Server.StartService(svc); err != nil {
		return err
	}

	if err := p.GAP.SetConfig(cfg); err != nil {
		return err
	}
	if cfg.MaxConnections != nil {
		if err := p.GAP.RunAutoAdvertise(); err != nil {
			return err
		}
	} else if err := p.GAP.StartAdvertising(); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"device_name": cfg.DeviceName,
		"app_id":      appID,
		"service":     demoServiceUUID,
	}).Info("gattperiphd advertising")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.WithField("final_value", counter.Value()).Info("shutting down")
	return nil
}
