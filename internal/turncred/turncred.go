// Package turncred issues coturn-compatible TURN REST credentials and
// assembles the ICE server list sent to clients.
//
// coturn validates credentials of the form:
//
//	username   = <unix_expiry>:<label>
//	credential = base64(hmac_sha1(shared_secret, username))
package turncred

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

type Config struct {
	Secret  string
	Host    string
	Port    int
	TLSPort int
	TTL     time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

type Generator struct {
	cfg Config
}

func NewGenerator(cfg Config) *Generator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Generator{cfg: cfg}
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Generate mints time-limited credentials bound to label (a peer id, or a
// random label when empty).
func (g *Generator) Generate(label string) Credentials {
	if label == "" {
		b := make([]byte, 8)
		_, _ = rand.Read(b)
		label = hex.EncodeToString(b)
	}
	expiry := g.cfg.Now().UTC().Unix() + int64(g.cfg.TTL/time.Second)
	username := fmt.Sprintf("%d:%s", expiry, label)

	mac := hmac.New(sha1.New, []byte(g.cfg.Secret))
	mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}
}

// ICEServers builds the full ICE server list for one peer: public STUN plus
// the configured TURN relay with fresh credentials. TURN entries are
// omitted when no shared secret is configured.
func (g *Generator) ICEServers(label string) []webrtc.ICEServer {
	servers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
	if g.cfg.Host == "" {
		return servers
	}
	servers = append(servers, webrtc.ICEServer{
		URLs: []string{fmt.Sprintf("stun:%s:%d", g.cfg.Host, g.cfg.Port)},
	})
	if g.cfg.Secret == "" {
		return servers
	}
	creds := g.Generate(label)
	servers = append(servers, webrtc.ICEServer{
		URLs: []string{
			fmt.Sprintf("turn:%s:%d?transport=udp", g.cfg.Host, g.cfg.Port),
			fmt.Sprintf("turn:%s:%d?transport=tcp", g.cfg.Host, g.cfg.Port),
			fmt.Sprintf("turns:%s:%d?transport=tcp", g.cfg.Host, g.cfg.TLSPort),
		},
		Username:   creds.Username,
		Credential: creds.Credential,
	})
	return servers
}
