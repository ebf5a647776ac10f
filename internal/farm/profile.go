package farm

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes one farm: its beds, weather panel, sensors and
// watering plan. Empty sections fall back to the demo greenhouse.
type Profile struct {
	Plots    []Plot    `yaml:"plots"`
	Weather  *Weather  `yaml:"weather"`
	Devices  []Device  `yaml:"devices"`
	Slots    []Slot    `yaml:"slots"`
	Settings *Settings `yaml:"settings"`
}

// DefaultProfile is the demo greenhouse.
func DefaultProfile() Profile {
	weather := DefaultWeather()
	settings := DefaultSettings()
	return Profile{
		Plots:    DefaultPlots(),
		Weather:  &weather,
		Devices:  DefaultDevices(),
		Slots:    DefaultSlots(),
		Settings: &settings,
	}
}

// ProfileFromEnv loads FARM_PROFILE when set, the demo profile otherwise.
func ProfileFromEnv() (Profile, error) {
	path := strings.TrimSpace(os.Getenv("FARM_PROFILE"))
	if path == "" {
		return DefaultProfile(), nil
	}
	return LoadProfile(path)
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read farm profile: %w", err)
	}
	return ParseProfile(raw)
}

// ParseProfile decodes a YAML profile and fills unset sections with defaults.
func ParseProfile(raw []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("decode farm profile: %w", err)
	}
	def := DefaultProfile()
	if len(p.Plots) == 0 {
		p.Plots = def.Plots
	}
	if p.Weather == nil {
		p.Weather = def.Weather
	}
	if len(p.Devices) == 0 {
		p.Devices = def.Devices
	}
	if len(p.Slots) == 0 {
		p.Slots = def.Slots
	}
	if p.Settings == nil {
		p.Settings = def.Settings
	}
	if err := p.validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (p Profile) validate() error {
	seen := make(map[string]struct{}, len(p.Devices))
	for _, d := range p.Devices {
		if strings.TrimSpace(d.ID) == "" {
			return errors.New("farm profile: device id is required")
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("farm profile: duplicate device %s", d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	for _, s := range p.Slots {
		if s.Hour < 0 || s.Hour > 23 {
			return fmt.Errorf("farm profile: slot hour %d out of range", s.Hour)
		}
		switch s.Status {
		case SlotActive, SlotSkip, SlotPaused:
		default:
			return fmt.Errorf("farm profile: slot %d: %w", s.Hour, ErrInvalidSlotStatus)
		}
	}
	if _, ok := LookupGrowthStage(p.Settings.GrowthStage); !ok {
		return fmt.Errorf("farm profile: %w: %s", ErrUnknownGrowthStage, p.Settings.GrowthStage)
	}
	if _, ok := LookupPlantProfile(p.Settings.Profile); !ok {
		return fmt.Errorf("farm profile: %w: %s", ErrUnknownProfile, p.Settings.Profile)
	}
	if err := p.Settings.checkVolumes(); err != nil {
		return fmt.Errorf("farm profile: %w", err)
	}
	return nil
}
