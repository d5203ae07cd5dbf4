package config

import (
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 5 * time.Second
	DefaultEventThrottle        = time.Second
	DefaultRoomPollInterval     = 30 * time.Second
	DefaultRefreshDebounce      = time.Second
	DefaultRefreshMinInterval   = 5 * time.Second
	DefaultActivityDedupWindow  = 2 * time.Second
	DefaultActivityFeedSize     = 10
	DefaultDirectoryPoll        = 30 * time.Second
	DefaultRequestTimeout       = 15 * time.Second

	defaultSocketPath = "/socket"
)

type Realtime struct {
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	EventThrottle        time.Duration
}

type Room struct {
	PollInterval        time.Duration
	RefreshDebounce     time.Duration
	RefreshMinInterval  time.Duration
	ActivityDedupWindow time.Duration
	ActivityFeedSize    int
}

type Directory struct {
	PollInterval time.Duration
}

type Config struct {
	APIURL         string
	SocketURL      string
	SessionFile    string
	DebugAddr      string
	RequestTimeout time.Duration
	Realtime       Realtime
	Room           Room
	Directory      Directory
}

func NewConfig(apiURL, socketURL, sessionFile string) (*Config, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("api url cannot be empty")
	}
	if sessionFile == "" {
		return nil, fmt.Errorf("session file cannot be empty")
	}

	api, err := parseBaseURL(apiURL, "http", "https")
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}

	if socketURL == "" {
		socketURL = deriveSocketURL(api)
	} else if _, err := parseBaseURL(socketURL, "ws", "wss"); err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}

	return &Config{
		APIURL:         api.String(),
		SocketURL:      socketURL,
		SessionFile:    sessionFile,
		RequestTimeout: DefaultRequestTimeout,
		Realtime: Realtime{
			MaxReconnectAttempts: DefaultMaxReconnectAttempts,
			ReconnectDelay:       DefaultReconnectDelay,
			EventThrottle:        DefaultEventThrottle,
		},
		Room: Room{
			PollInterval:        DefaultRoomPollInterval,
			RefreshDebounce:     DefaultRefreshDebounce,
			RefreshMinInterval:  DefaultRefreshMinInterval,
			ActivityDedupWindow: DefaultActivityDedupWindow,
			ActivityFeedSize:    DefaultActivityFeedSize,
		},
		Directory: Directory{
			PollInterval: DefaultDirectoryPoll,
		},
	}, nil
}

func parseBaseURL(raw string, schemes ...string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return u, nil
		}
	}

	return nil, fmt.Errorf("%q must be an absolute %s url", raw, schemes[0])
}

// deriveSocketURL maps http(s)://host/... to ws(s)://host/socket.
func deriveSocketURL(api *url.URL) string {
	u := *api
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = defaultSocketPath
	u.RawQuery = ""
	return u.String()
}
