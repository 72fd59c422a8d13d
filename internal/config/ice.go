package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

// iceValues holds the raw ICE settings so env defaults can be overridden by
// flags before validation.
type iceValues struct {
	serversJSON    string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string
}

func iceValuesFromEnv(lookup func(string) (string, bool)) *iceValues {
	return &iceValues{
		serversJSON:    envOrDefault(lookup, envICEServersJSON, ""),
		stunURLs:       envOrDefault(lookup, envStunURLs, ""),
		turnURLs:       envOrDefault(lookup, envTurnURLs, ""),
		turnUsername:   envOrDefault(lookup, envTurnUsername, ""),
		turnCredential: envOrDefault(lookup, envTurnCredential, ""),
	}
}

// LoadICEServersFromEnv reads the ICE env vars only. Used by the peer CLI,
// which has its own flags.
func LoadICEServersFromEnv() ([]webrtc.ICEServer, error) {
	return iceValuesFromEnv(os.LookupEnv).parse()
}

func (v *iceValues) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&v.serversJSON, "ice-servers-json", v.serversJSON, "ICE server JSON handed to clients via GET /ice ("+envICEServersJSON+")")
	fs.StringVar(&v.stunURLs, "stun-urls", v.stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&v.turnURLs, "turn-urls", v.turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&v.turnUsername, "turn-username", v.turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&v.turnCredential, "turn-credential", v.turnCredential, "TURN credential ("+envTurnCredential+")")
}

// parse builds the server list from the JSON setting when present, otherwise
// from the STUN/TURN list settings, and checks every entry.
func (v *iceValues) parse() ([]webrtc.ICEServer, error) {
	source := envICEServersJSON
	servers, err := v.fromJSON()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
	}
	if servers == nil {
		source = envStunURLs + "/" + envTurnURLs
		servers = v.fromLists()
	}

	for i, s := range servers {
		if err := checkICEServer(s); err != nil {
			return nil, fmt.Errorf("%s: server %d: %w", source, i, err)
		}
	}
	return servers, nil
}

// fromJSON accepts the browser RTCIceServer shape, where urls may be a single
// string or an array.
func (v *iceValues) fromJSON() ([]webrtc.ICEServer, error) {
	raw := strings.TrimSpace(v.serversJSON)
	if raw == "" {
		return nil, nil
	}

	var entries []struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		var urls []string
		var one string
		switch {
		case len(e.URLs) == 0:
		case json.Unmarshal(e.URLs, &one) == nil:
			urls = []string{one}
		case json.Unmarshal(e.URLs, &urls) != nil:
			return nil, fmt.Errorf("server %d: urls must be a string or an array of strings", i)
		}

		s := webrtc.ICEServer{Username: strings.TrimSpace(e.Username)}
		for _, u := range urls {
			if u = strings.TrimSpace(u); u != "" {
				s.URLs = append(s.URLs, u)
			}
		}
		if c := strings.TrimSpace(e.Credential); c != "" {
			s.Credential = c
		}
		servers = append(servers, s)
	}
	return servers, nil
}

func (v *iceValues) fromLists() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if stun := splitList(v.stunURLs); len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turn := splitList(v.turnURLs); len(turn) > 0 {
		s := webrtc.ICEServer{URLs: turn, Username: strings.TrimSpace(v.turnUsername)}
		if c := strings.TrimSpace(v.turnCredential); c != "" {
			s.Credential = c
		}
		servers = append(servers, s)
	}
	return servers
}

// checkICEServer rejects entries a browser or pion would refuse: no URLs, a
// scheme other than stun/stuns/turn/turns, or TURN without credentials.
func checkICEServer(s webrtc.ICEServer) error {
	if len(s.URLs) == 0 {
		return errors.New("missing urls")
	}

	turn := false
	for _, u := range s.URLs {
		scheme, _, _ := strings.Cut(u, ":")
		switch strings.ToLower(scheme) {
		case "stun", "stuns":
		case "turn", "turns":
			turn = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}
	if !turn {
		return nil
	}

	if s.Username == "" {
		return errors.New("turn urls require a username")
	}
	if c, _ := s.Credential.(string); c == "" {
		return errors.New("turn urls require a credential")
	}
	return nil
}
