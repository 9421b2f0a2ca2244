package types

// ReaderProfileDefinition describes one supported UHF reader module model:
// link parameters, timing constants and the command subset its firmware
// implements. Profiles are JSON files validated against an embedded schema.
type ReaderProfileDefinition struct {
	Profile  ReaderProfileInfo `json:"reader_profile"`
	Link     LinkConfig        `json:"link"`
	Timing   TimingConfig      `json:"timing"`
	Power    PowerLimits       `json:"power"`
	Commands []CommandSupport  `json:"commands"`
}

type ReaderProfileInfo struct {
	ID          string `json:"id"`
	Vendor      string `json:"vendor"`
	Model       string `json:"model"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type LinkConfig struct {
	BaudRate      int    `json:"baud_rate"`
	DataBits      int    `json:"data_bits"`
	StopBits      int    `json:"stop_bits"`
	Parity        string `json:"parity"`
	SettleDelayMs int    `json:"settle_delay_ms"`
}

type TimingConfig struct {
	CommandTimeoutMs int `json:"command_timeout_ms"`
	PollIntervalMs   int `json:"poll_interval_ms"`
	IdleTimeoutMs    int `json:"idle_timeout_ms"`
}

type PowerLimits struct {
	MinDbm     int `json:"min_dbm"`
	MaxDbm     int `json:"max_dbm"`
	DefaultDbm int `json:"default_dbm"`
}

type CommandSupport struct {
	Name        string `json:"name"`
	Code        int    `json:"code"`
	Description string `json:"description,omitempty"`
}

// SupportsCommand reports whether the profile lists the given command code.
func (p *ReaderProfileDefinition) SupportsCommand(code byte) bool {
	for _, c := range p.Commands {
		if c.Code == int(code) {
			return true
		}
	}
	return false
}
