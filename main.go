package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/config"
	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/internal"
	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/internal/hardware"
	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/internal/services"
)

const SERVICENAME = "DS18B20 Battery Sensor Node"
const VERSION = "v2.1.0"

const defaultDeviceName = "ds18b20-sensor"

func main() {
	fmt.Print(SERVICENAME + " " + VERSION + "\n\n")

	cfg := config.LoadConfig()

	store, err := services.NewStateStore(cfg.StateDir, cfg.Sleep.MaxSeconds)
	if err != nil {
		log.Fatalf("Error opening state store: %v", err)
	}

	sleeper := hardware.RTCSleeper{}
	log.Printf("Wake cause: %s", sleeper.WakeCause())

	// Boot classification runs first, before any other subsystem. It may
	// block for the reset-detection window; nothing else is running yet.
	bootCheck := internal.NewBootCheck(store, cfg.Boot)
	reason := bootCheck.ClassifyBoot()
	log.Printf("Boot classified: %s", reason)

	radio := hardware.NewNMRadio(cfg.WiFi.Interface, cfg.WiFi.AttemptTimeout)
	ap := hardware.NewNMAccessPoint(cfg.WiFi.Interface)
	restarter := hardware.SystemRestarter{}

	network := store.LoadNetwork()
	freshlyConfigured := false
	if reason != internal.BootNormal || !network.HasCredentials() {
		portal := internal.NewPortal(store, radio, ap, restarter, cfg.Portal)
		if err := portal.Run(reason); err != nil {
			// Restart was requested; if it ever returns, there is nothing
			// sane left to do in this boot.
			log.Fatalf("Setup portal failed: %v", err)
		}
		network = store.LoadNetwork()
		freshlyConfigured = true
	}

	deviceName := internal.DeviceName(network, defaultDeviceName)
	log.Printf("Device name: %s, namespace: %s", deviceName, cfg.MQTT.Namespace)

	var sensor internal.Sensor
	probe, err := hardware.NewDS18B20()
	if err != nil {
		log.Printf("Warning: %v, running without a probe", err)
		sensor = internal.NullSensor{}
	} else {
		sensor = probe
	}

	mqttClient, err := services.NewMqttClient(cfg.MQTT, deviceName)
	if err != nil {
		log.Fatalf("Error creating MQTT client: %v", err)
	}

	otaClient := services.NewOTAClient(cfg.OTA, VERSION)

	wifi := internal.NewWiFiSupervisor(radio, ap, network, cfg.WiFi)
	runner := internal.NewRunner(cfg, store, bootCheck, wifi, mqttClient, otaClient,
		sensor, sleeper, restarter, deviceName, reason, freshlyConfigured)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	err = runner.Run(ctx)
	if errors.Is(err, internal.ErrSuspended) {
		// Resumed from scheduled sleep; exit so the process supervisor
		// re-enters at the top of the boot sequence.
		log.Println("Resumed from deep sleep, exiting for reboot into fresh boot sequence")
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("Runner stopped: %v", err)
	}
	log.Println("Shutting down")
}
