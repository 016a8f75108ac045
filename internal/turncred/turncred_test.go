package turncred

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"testing"
	"time"
)

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0).UTC() }
}

func TestGenerate_DeterministicWithFixedTime(t *testing.T) {
	g := NewGenerator(Config{
		Secret: "shared-secret",
		TTL:    time.Hour,
		Now:    fixedClock(1_700_000_000),
	})

	creds := g.Generate("peer123")

	wantExpiry := int64(1_700_003_600)
	if creds.ExpiryUnix != wantExpiry {
		t.Fatalf("ExpiryUnix: got %d, want %d", creds.ExpiryUnix, wantExpiry)
	}
	wantUsername := "1700003600:peer123"
	if creds.Username != wantUsername {
		t.Fatalf("Username: got %q, want %q", creds.Username, wantUsername)
	}

	mac := hmac.New(sha1.New, []byte("shared-secret"))
	mac.Write([]byte(wantUsername))
	wantCred := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if creds.Credential != wantCred {
		t.Fatalf("Credential: got %q, want %q", creds.Credential, wantCred)
	}
}

func TestGenerate_RandomLabelWhenEmpty(t *testing.T) {
	g := NewGenerator(Config{Secret: "s", TTL: time.Minute, Now: fixedClock(0)})

	a := g.Generate("")
	b := g.Generate("")
	if a.Username == b.Username {
		t.Fatalf("expected distinct random labels, got %q twice", a.Username)
	}
}

func TestICEServers_NoTURNWithoutSecret(t *testing.T) {
	g := NewGenerator(Config{Host: "turn.example.com", Port: 3478, Now: fixedClock(0)})

	servers := g.ICEServers("p1")
	if len(servers) != 2 {
		t.Fatalf("expected public STUN + host STUN only, got %d entries", len(servers))
	}
	for _, s := range servers {
		if s.Username != "" || s.Credential != nil && s.Credential != "" {
			t.Fatalf("unexpected credentials on STUN entry: %+v", s)
		}
	}
}

func TestICEServers_FullSet(t *testing.T) {
	g := NewGenerator(Config{
		Secret:  "s3cr3t",
		Host:    "turn.example.com",
		Port:    3478,
		TLSPort: 5349,
		TTL:     time.Hour,
		Now:     fixedClock(100),
	})

	servers := g.ICEServers("p1")
	if len(servers) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(servers))
	}
	turn := servers[2]
	if len(turn.URLs) != 3 {
		t.Fatalf("expected udp+tcp+tls TURN urls, got %v", turn.URLs)
	}
	if turn.URLs[0] != "turn:turn.example.com:3478?transport=udp" {
		t.Fatalf("unexpected first TURN url %q", turn.URLs[0])
	}
	if turn.URLs[2] != "turns:turn.example.com:5349?transport=tcp" {
		t.Fatalf("unexpected turns url %q", turn.URLs[2])
	}
	if turn.Username != "3700:p1" {
		t.Fatalf("Username: got %q, want %q", turn.Username, "3700:p1")
	}
	if turn.Credential == "" {
		t.Fatal("expected non-empty credential")
	}
}
