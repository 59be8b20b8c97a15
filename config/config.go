package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	MQTT     MQTTConfig
	Boot     BootConfig
	WiFi     WiFiConfig
	Session  SessionConfig
	Sleep    SleepConfig
	Portal   PortalConfig
	OTA      OTAConfig
	Loop     LoopConfig
	StateDir string
}

type MQTTConfig struct {
	Broker    string
	Namespace string
	Username  string
	Password  string
}

type BootConfig struct {
	CrashLoopThreshold uint32
	ResetThreshold     uint32
	ResetWindow        time.Duration
	ResetCountSanity   uint32
}

type WiFiConfig struct {
	Interface       string
	AttemptInterval time.Duration
	AttemptTimeout  time.Duration
	FallbackTimeout time.Duration
	StaleTimeout    time.Duration
	FallbackSSID    string
}

type SessionConfig struct {
	ReconnectInterval time.Duration
	StaleTimeout      time.Duration
	DisconnectGrace   time.Duration
}

type SleepConfig struct {
	MaxSeconds    uint32
	CommandWindow time.Duration
}

type PortalConfig struct {
	ListenAddr string
	APSSID     string
	Timeout    time.Duration
	JoinWait   time.Duration
}

type OTAConfig struct {
	ManifestURL   string
	CheckInterval time.Duration
	StagingPath   string
}

type LoopConfig struct {
	TickInterval   time.Duration
	StatusInterval time.Duration
	ReportInterval time.Duration
}

func LoadConfig() *Config {
	viper.SetConfigFile(".env")
	viper.ReadInConfig()
	viper.AutomaticEnv()

	setDefaults()

	return &Config{
		MQTT: MQTTConfig{
			Broker:    viper.GetString("MQTT_BROKER"),
			Namespace: viper.GetString("MQTT_NAMESPACE"),
			Username:  viper.GetString("MQTT_USERNAME"),
			Password:  viper.GetString("MQTT_PASSWORD"),
		},
		Boot: BootConfig{
			CrashLoopThreshold: viper.GetUint32("BOOT_CRASH_LOOP_THRESHOLD"),
			ResetThreshold:     viper.GetUint32("BOOT_RESET_THRESHOLD"),
			ResetWindow:        viper.GetDuration("BOOT_RESET_WINDOW"),
			ResetCountSanity:   viper.GetUint32("BOOT_RESET_COUNT_SANITY"),
		},
		WiFi: WiFiConfig{
			Interface:       viper.GetString("WIFI_INTERFACE"),
			AttemptInterval: viper.GetDuration("WIFI_ATTEMPT_INTERVAL"),
			AttemptTimeout:  viper.GetDuration("WIFI_ATTEMPT_TIMEOUT"),
			FallbackTimeout: viper.GetDuration("WIFI_FALLBACK_TIMEOUT"),
			StaleTimeout:    viper.GetDuration("WIFI_STALE_TIMEOUT"),
			FallbackSSID:    viper.GetString("WIFI_FALLBACK_SSID"),
		},
		Session: SessionConfig{
			ReconnectInterval: viper.GetDuration("MQTT_RECONNECT_INTERVAL"),
			StaleTimeout:      viper.GetDuration("MQTT_STALE_TIMEOUT"),
			DisconnectGrace:   viper.GetDuration("MQTT_DISCONNECT_GRACE"),
		},
		Sleep: SleepConfig{
			MaxSeconds:    viper.GetUint32("SLEEP_MAX_SECONDS"),
			CommandWindow: viper.GetDuration("SLEEP_COMMAND_WINDOW"),
		},
		Portal: PortalConfig{
			ListenAddr: viper.GetString("PORTAL_LISTEN_ADDR"),
			APSSID:     viper.GetString("PORTAL_AP_SSID"),
			Timeout:    viper.GetDuration("PORTAL_TIMEOUT"),
			JoinWait:   viper.GetDuration("PORTAL_JOIN_WAIT"),
		},
		OTA: OTAConfig{
			ManifestURL:   viper.GetString("OTA_MANIFEST_URL"),
			CheckInterval: viper.GetDuration("OTA_CHECK_INTERVAL"),
			StagingPath:   viper.GetString("OTA_STAGING_PATH"),
		},
		Loop: LoopConfig{
			TickInterval:   viper.GetDuration("LOOP_TICK_INTERVAL"),
			StatusInterval: viper.GetDuration("LOOP_STATUS_INTERVAL"),
			ReportInterval: viper.GetDuration("LOOP_REPORT_INTERVAL"),
		},
		StateDir: viper.GetString("STATE_DIR"),
	}
}

// setDefaults keeps the device bootable with no .env present. The broker
// address and namespace are the only values a deployment really has to set.
func setDefaults() {
	viper.SetDefault("MQTT_BROKER", "tcp://192.168.1.2:1883")
	viper.SetDefault("MQTT_NAMESPACE", "sensors")

	viper.SetDefault("BOOT_CRASH_LOOP_THRESHOLD", 5)
	viper.SetDefault("BOOT_RESET_THRESHOLD", 3)
	viper.SetDefault("BOOT_RESET_WINDOW", "2s")
	viper.SetDefault("BOOT_RESET_COUNT_SANITY", 10)

	viper.SetDefault("WIFI_INTERFACE", "wlan0")
	viper.SetDefault("WIFI_ATTEMPT_INTERVAL", "5s")
	viper.SetDefault("WIFI_ATTEMPT_TIMEOUT", "3s")
	viper.SetDefault("WIFI_FALLBACK_TIMEOUT", "60s")
	viper.SetDefault("WIFI_STALE_TIMEOUT", "90s")
	viper.SetDefault("WIFI_FALLBACK_SSID", "tempsensor-fallback")

	viper.SetDefault("MQTT_RECONNECT_INTERVAL", "5s")
	viper.SetDefault("MQTT_STALE_TIMEOUT", "120s")
	viper.SetDefault("MQTT_DISCONNECT_GRACE", "500ms")

	viper.SetDefault("SLEEP_MAX_SECONDS", 3600)
	viper.SetDefault("SLEEP_COMMAND_WINDOW", "5s")

	viper.SetDefault("PORTAL_LISTEN_ADDR", ":80")
	viper.SetDefault("PORTAL_AP_SSID", "tempsensor-setup")
	viper.SetDefault("PORTAL_TIMEOUT", "300s")
	viper.SetDefault("PORTAL_JOIN_WAIT", "30s")

	viper.SetDefault("OTA_MANIFEST_URL", "")
	viper.SetDefault("OTA_CHECK_INTERVAL", "6h")
	viper.SetDefault("OTA_STAGING_PATH", "/var/lib/tempsensor/firmware.staged")

	viper.SetDefault("LOOP_TICK_INTERVAL", "1s")
	viper.SetDefault("LOOP_STATUS_INTERVAL", "60s")
	viper.SetDefault("LOOP_REPORT_INTERVAL", "60s")

	viper.SetDefault("STATE_DIR", "/var/lib/tempsensor")
}
