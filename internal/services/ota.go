package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/config"
)

type OTAManifest struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

var ErrNoManifestURL = errors.New("no OTA manifest URL configured")

// OTAClient polls a firmware manifest and stages new images on disk.
// Applying the staged image is the updater's job, not the firmware's; the
// lifecycle core only consumes InProgress so the sleep scheduler never
// suspends mid-transfer.
type OTAClient struct {
	client         *resty.Client
	cfg            config.OTAConfig
	currentVersion string

	inProgress atomic.Bool
	lastCheck  time.Time
}

func NewOTAClient(cfg config.OTAConfig, currentVersion string) *OTAClient {
	client := resty.New()
	client.SetTimeout(30 * time.Second)

	return &OTAClient{
		client:         client,
		cfg:            cfg,
		currentVersion: currentVersion,
	}
}

// InProgress reports whether a firmware transfer is running right now.
func (o *OTAClient) InProgress() bool {
	return o.inProgress.Load()
}

// MaybeCheck polls the manifest if the check interval has elapsed. Called
// from the tick loop; the actual transfer runs in the background with the
// in-progress flag held.
func (o *OTAClient) MaybeCheck() {
	if o.cfg.ManifestURL == "" || o.inProgress.Load() {
		return
	}
	if time.Since(o.lastCheck) < o.cfg.CheckInterval {
		return
	}
	o.lastCheck = time.Now()

	manifest, err := o.FetchManifest()
	if err != nil {
		log.Printf("ota: manifest check failed: %v", err)
		return
	}
	if manifest.Version == o.currentVersion {
		return
	}

	log.Printf("ota: version %s available (running %s), staging", manifest.Version, o.currentVersion)
	o.inProgress.Store(true)
	go func() {
		defer o.inProgress.Store(false)
		if err := o.download(manifest); err != nil {
			log.Printf("ota: staging failed: %v", err)
			return
		}
		log.Printf("ota: version %s staged at %s", manifest.Version, o.cfg.StagingPath)
	}()
}

func (o *OTAClient) FetchManifest() (*OTAManifest, error) {
	if o.cfg.ManifestURL == "" {
		return nil, ErrNoManifestURL
	}

	var manifest OTAManifest
	resp, err := o.client.R().SetResult(&manifest).Get(o.cfg.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("error fetching OTA manifest: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("manifest fetch returned status %d", resp.StatusCode())
	}
	if manifest.Version == "" || manifest.URL == "" {
		return nil, fmt.Errorf("manifest missing version or url")
	}
	return &manifest, nil
}

func (o *OTAClient) download(manifest *OTAManifest) error {
	tmp := o.cfg.StagingPath + ".part"
	resp, err := o.client.R().SetOutput(tmp).Get(manifest.URL)
	if err != nil {
		return fmt.Errorf("error downloading firmware: %w", err)
	}
	if resp.StatusCode() != 200 {
		os.Remove(tmp)
		return fmt.Errorf("firmware download returned status %d", resp.StatusCode())
	}
	if err := os.Rename(tmp, o.cfg.StagingPath); err != nil {
		return fmt.Errorf("unable to move staged firmware: %w", err)
	}
	return nil
}
