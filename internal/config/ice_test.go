package config

import (
	"strings"
	"testing"
)

func TestICEServers_JSON(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envICEServersJSON: `[
		  {"urls": "stun:stun.example.com:3478"},
		  {"urls": ["TURN:turn.example.com:3478?transport=udp", " "], "username": "user", "credential": "pass"}
		]`,
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	servers := cfg.ICEServers
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %#v", servers)
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if got := servers[1].URLs; len(got) != 1 {
		t.Fatalf("blank url not dropped: %#v", got)
	}
	if cred, ok := servers[1].Credential.(string); !ok || cred != "pass" || servers[1].Username != "user" {
		t.Fatalf("unexpected turn credentials: %#v", servers[1])
	}
}

func TestICEServers_JSONWinsOverLists(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envICEServersJSON: `[{"urls": ["stun:json.example.com"]}]`,
		envStunURLs:       "stun:list.example.com",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:json.example.com" {
		t.Fatalf("unexpected servers: %#v", cfg.ICEServers)
	}
}

func TestICEServers_Lists(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envStunURLs:       "stun:stun1.example.com:3478, stun:stun2.example.com:3478",
		envTurnURLs:       "turn:turn.example.com:3478",
		envTurnUsername:   "user",
		envTurnCredential: "pass",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("expected 2 servers, got %#v", cfg.ICEServers)
	}
	if got := cfg.ICEServers[0].URLs; len(got) != 2 || got[1] != "stun:stun2.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
}

func TestICEServers_FlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envStunURLs: "stun:env.example.com"}), []string{"--stun-urls", "stun:flag.example.com"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:flag.example.com" {
		t.Fatalf("unexpected servers: %#v", cfg.ICEServers)
	}
}

func TestICEServers_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad json", map[string]string{envICEServersJSON: `[`}, envICEServersJSON},
		{"urls not strings", map[string]string{envICEServersJSON: `[{"urls": 3}]`}, "urls must be"},
		{"missing urls", map[string]string{envICEServersJSON: `[{}]`}, "missing urls"},
		{"unknown scheme", map[string]string{envICEServersJSON: `[{"urls": ["http://stun.example.com"]}]`}, "unsupported url scheme"},
		{"turn json without creds", map[string]string{envICEServersJSON: `[{"urls": ["turn:turn.example.com"]}]`}, "username"},
		{"turn list without credential", map[string]string{envTurnURLs: "turn:turn.example.com", envTurnUsername: "user"}, "credential"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupMap(tc.env), nil)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want mention of %q", err, tc.want)
			}
		})
	}
}
