package internal

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aachtenberg/esp12f-ds18b20-temp-sensor-sub000/config"
)

type PortalState int

const (
	PortalIdle PortalState = iota
	PortalActive
	PortalConnected
	PortalTimedOut
)

var ErrPortalAbandoned = errors.New("portal abandoned without working credentials")

// NetworkStore is the slice of the state store the portal needs.
type NetworkStore interface {
	LoadNetwork() NetworkRecord
	SaveNetwork(NetworkRecord) error
}

type portalSubmission struct {
	ssid       string
	passphrase string
	deviceName string
}

// Portal is the local setup surface: a temporary access point plus a captive
// configuration endpoint. It runs only at boot, before the steady-state loop
// exists, and it blocks deliberately; there is no publishing or command
// servicing to preserve yet.
type Portal struct {
	store     NetworkStore
	radio     Radio
	ap        AccessPoint
	restarter Restarter
	cfg       config.PortalConfig

	state PortalState
	now   func() time.Time
	wait  func(time.Duration)
}

func NewPortal(store NetworkStore, radio Radio, ap AccessPoint, restarter Restarter, cfg config.PortalConfig) *Portal {
	return &Portal{
		store:     store,
		radio:     radio,
		ap:        ap,
		restarter: restarter,
		cfg:       cfg,
		state:     PortalIdle,
		now:       time.Now,
		wait:      time.Sleep,
	}
}

const portalPage = `<!doctype html>
<html><head><title>Sensor setup</title></head><body>
<h1>Sensor setup</h1>
<form method="post" action="/configure">
<label>Network name <input name="ssid" required></label><br>
<label>Passphrase <input name="passphrase" type="password"></label><br>
<label>Device name <input name="device_name"></label><br>
<button type="submit">Save</button>
</form></body></html>`

// Run opens the portal and blocks until the device either joins a network or
// restarts. A nil return means the radio is associated and boot continues.
func (p *Portal) Run(reason BootReason) error {
	log.Printf("portal: opening setup AP %q (boot reason: %s)", p.cfg.APSSID, reason)
	p.state = PortalActive

	if err := p.ap.Start(p.cfg.APSSID); err != nil {
		log.Printf("portal: unable to start setup AP: %v", err)
		return p.fallbackToStored()
	}

	submitCh := make(chan portalSubmission, 1)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(portalPage))
	})
	router.POST("/configure", func(c *gin.Context) {
		sub := portalSubmission{
			ssid:       c.PostForm("ssid"),
			passphrase: c.PostForm("passphrase"),
			deviceName: c.PostForm("device_name"),
		}
		if sub.ssid == "" {
			c.String(http.StatusBadRequest, "network name is required")
			return
		}
		select {
		case submitCh <- sub:
			c.String(http.StatusOK, "Saved. The device is joining %q and will resume normal operation.", sub.ssid)
		default:
			c.String(http.StatusConflict, "configuration already submitted")
		}
	})

	srv := &http.Server{Addr: p.cfg.ListenAddr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("portal: endpoint stopped: %v", err)
		}
	}()

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		srv.Shutdown(ctx)
		cancel()
		p.ap.Stop()
	}()

	select {
	case sub := <-submitCh:
		return p.applySubmission(sub)
	case <-time.After(p.cfg.Timeout):
		p.state = PortalTimedOut
		log.Printf("portal: no configuration after %s", p.cfg.Timeout)
		return p.fallbackToStored()
	}
}

func (p *Portal) State() PortalState { return p.state }

func (p *Portal) applySubmission(sub portalSubmission) error {
	rec := p.store.LoadNetwork()
	rec.SSID = sub.ssid
	rec.Passphrase = sub.passphrase
	if sub.deviceName != "" {
		rec.DeviceName = sub.deviceName
	}
	if err := p.store.SaveNetwork(rec); err != nil {
		log.Printf("portal: unable to persist credentials: %v", err)
	}

	p.ap.Stop()
	if p.join(rec) {
		p.state = PortalConnected
		log.Printf("portal: joined %q, resuming boot", rec.SSID)
		return nil
	}

	// Inability to join on fresh credentials is fatal for this boot. The
	// user was at the portal, so this never counts toward the crash loop;
	// the restart routes straight back here via the reset check.
	log.Printf("portal: unable to join %q, restarting", rec.SSID)
	p.restarter.Restart()
	return ErrPortalAbandoned
}

// fallbackToStored runs when the portal closes without a submission: try the
// previously stored credentials once, then give up and restart.
func (p *Portal) fallbackToStored() error {
	rec := p.store.LoadNetwork()
	if rec.HasCredentials() {
		p.ap.Stop()
		if p.join(rec) {
			p.state = PortalConnected
			log.Printf("portal: rejoined %q on stored credentials", rec.SSID)
			return nil
		}
	}
	p.restarter.Restart()
	return ErrPortalAbandoned
}

func (p *Portal) join(rec NetworkRecord) bool {
	if err := p.radio.Connect(rec.SSID, rec.Passphrase); err != nil {
		log.Printf("portal: association failed: %v", err)
		return false
	}
	deadline := p.now().Add(p.cfg.JoinWait)
	for p.now().Before(deadline) {
		if p.radio.Connected() {
			return true
		}
		p.wait(500 * time.Millisecond)
	}
	return p.radio.Connected()
}
